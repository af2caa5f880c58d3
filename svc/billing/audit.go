package billing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/lmsadmin/pkg/audit"
	"github.com/dmitrymomot/lmsadmin/pkg/logger"
	"github.com/dmitrymomot/lmsadmin/pkg/requestid"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

// Audited admin actions.
const (
	AuditActionGrant            = "billing.admin.grant"
	AuditActionSweep            = "billing.admin.sweep"
	AuditActionSyncSubscription = "billing.admin.sync_subscription"
)

// newAuditLogger reads the acting admin and request id from the context.
func newAuditLogger(storage audit.Storage, now func() time.Time) *audit.Logger {
	return audit.NewLogger(storage,
		audit.WithActorExtractor(func(ctx context.Context) (string, bool) {
			c, ok := subscription.CallerFromContext(ctx)
			return c.UserID, ok
		}),
		audit.WithRequestIDExtractor(func(ctx context.Context) (string, bool) {
			id := requestid.FromContext(ctx)
			return id, id != ""
		}),
		audit.WithClock(now),
	)
}

// recordAudit stores the outcome of an admin action. Rejected requests are
// failures, everything else that went wrong is an error. A storage failure
// is logged and does not change the response.
func (h *Handler) recordAudit(ctx context.Context, action string, err error, opts ...audit.EventOption) {
	var aerr error
	if err == nil {
		aerr = h.auditLog.Log(ctx, action, opts...)
	} else {
		switch subscription.KindOf(err) {
		case subscription.KindValidation, subscription.KindConflict,
			subscription.KindNotFound, subscription.KindAuthorization:
			opts = append(opts, audit.WithResult(audit.ResultFailure))
		}
		aerr = h.auditLog.LogError(ctx, action, err, opts...)
	}
	if aerr != nil {
		h.log.ErrorContext(ctx, "failed to record audit event", slog.String("action", action), logger.Error(aerr))
	}
}

type auditResponse struct {
	Events []audit.Event `json:"events"`
}

// listAuditEvents serves GET /admin/billing/audit. Filters come from the
// query string; since and until are RFC 3339 timestamps.
func (h *Handler) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	criteria, err := auditCriteria(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: string(subscription.KindValidation)})
		return
	}
	events, err := h.auditReader.Find(r.Context(), criteria)
	if err != nil {
		writeError(w, r, h.log, subscription.E(subscription.KindInternal, "billing.audit.list", err))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Events: events})
}

func auditCriteria(r *http.Request) (audit.Criteria, error) {
	q := r.URL.Query()
	c := audit.Criteria{
		ActorID:    q.Get("actor_id"),
		Action:     q.Get("action"),
		Resource:   q.Get("resource"),
		ResourceID: q.Get("resource_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%w: limit must be a number", audit.ErrInvalidCriteria)
		}
		c.Limit = n
	}
	for _, f := range []struct {
		name string
		dst  *time.Time
	}{{"since", &c.Since}, {"until", &c.Until}} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c, fmt.Errorf("%w: %s must be an RFC 3339 time", audit.ErrInvalidCriteria, f.name)
		}
		*f.dst = t
	}
	return c.Normalize()
}
