package subscription

import (
	"fmt"
	"time"
)

// DegradedPeriodLength is the window synthesized when neither the provider
// nor the local row has a usable period.
const DegradedPeriodLength = 30 * 24 * time.Hour

// maxEpochSeconds is 9999-12-31T23:59:59Z.
const maxEpochSeconds = 253402300799

// PeriodSource tells where a resolved period came from.
type PeriodSource int

const (
	PeriodFromProvider PeriodSource = iota
	PeriodFromFallback
	PeriodDegraded
)

func (s PeriodSource) String() string {
	switch s {
	case PeriodFromProvider:
		return "provider"
	case PeriodFromFallback:
		return "fallback"
	case PeriodDegraded:
		return "degraded"
	}
	return "unknown"
}

// ResolvePeriod picks the billing period for sub.
//
// Provider bounds are used when both are present and positive. Otherwise a
// valid fallback (usually the stored row) is used, and failing that a
// DegradedPeriodLength window starting at now. A provider period whose end
// precedes its start is treated as missing. Bounds that cannot be
// represented as instants yield ErrInvalidPeriod.
func ResolvePeriod(sub *ProviderSubscription, fallback *Period, now time.Time) (Period, PeriodSource, error) {
	if sub != nil && positive(sub.CurrentPeriodStart) && positive(sub.CurrentPeriodEnd) {
		start, err := epochToTime(*sub.CurrentPeriodStart)
		if err != nil {
			return Period{}, PeriodFromProvider, err
		}
		end, err := epochToTime(*sub.CurrentPeriodEnd)
		if err != nil {
			return Period{}, PeriodFromProvider, err
		}
		if !end.Before(start) {
			return Period{Start: start, End: end}, PeriodFromProvider, nil
		}
	}

	if fallback != nil && fallback.Valid() {
		return Period{Start: fallback.Start.UTC(), End: fallback.End.UTC()}, PeriodFromFallback, nil
	}

	start := now.UTC()
	return Period{Start: start, End: start.Add(DegradedPeriodLength)}, PeriodDegraded, nil
}

// Resolution is the canonical local state derived from a provider subscription.
type Resolution struct {
	Status            Status
	Period            Period
	Source            PeriodSource
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
}

// Resolve maps status, period and cancellation fields of sub. When deleted
// is true the status is forced to canceled, cancel-at-period-end is cleared
// and a missing cancellation time defaults to now.
func Resolve(sub *ProviderSubscription, fallback *Period, now time.Time, deleted bool) (Resolution, error) {
	if sub == nil {
		return Resolution{}, ErrMissingEventObject
	}

	period, source, err := ResolvePeriod(sub, fallback, now)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		Period:            period,
		Source:            source,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if positive(sub.CanceledAt) {
		t, err := epochToTime(*sub.CanceledAt)
		if err != nil {
			return Resolution{}, err
		}
		res.CanceledAt = &t
	}

	if deleted {
		res.Status = StatusCanceled
		res.CancelAtPeriodEnd = false
		if res.CanceledAt == nil {
			t := now.UTC()
			res.CanceledAt = &t
		}
		return res, nil
	}

	res.Status, err = ParseStatus(sub.Status)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %q", err, sub.Status)
	}
	return res, nil
}

func positive(v *int64) bool {
	return v != nil && *v > 0
}

func epochToTime(sec int64) (time.Time, error) {
	if sec <= 0 || sec > maxEpochSeconds {
		return time.Time{}, ErrInvalidPeriod
	}
	return time.Unix(sec, 0).UTC(), nil
}
