package billing

import (
	"errors"
	"time"
)

// Config holds the billing service settings that are not owned by one of
// the infrastructure packages.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"lms-billing"`

	// The expiry sweep runs once a day at this UTC time.
	SweepAtHour   int           `env:"BILLING_SWEEP_AT_HOUR" envDefault:"3"`
	SweepAtMinute int           `env:"BILLING_SWEEP_AT_MINUTE" envDefault:"0"`
	SweepTimeout  time.Duration `env:"BILLING_SWEEP_TIMEOUT" envDefault:"10m"`

	AdminGrantDays int `env:"BILLING_ADMIN_GRANT_DAYS" envDefault:"365"`

	// Per-user throttle on actions that call the provider.
	SyncRateLimit float64 `env:"BILLING_SYNC_RATE_LIMIT" envDefault:"1"`
	SyncRateBurst int     `env:"BILLING_SYNC_RATE_BURST" envDefault:"5"`
}

var (
	ErrInvalidSweepTime  = errors.New("sweep time must be a valid hour and minute")
	ErrInvalidGrantDays  = errors.New("admin grant days must be positive")
	ErrInvalidRateLimits = errors.New("sync rate limit and burst must be positive")
)

func (c *Config) Validate() error {
	var errs []error
	if c.SweepAtHour < 0 || c.SweepAtHour > 23 || c.SweepAtMinute < 0 || c.SweepAtMinute > 59 {
		errs = append(errs, ErrInvalidSweepTime)
	}
	if c.AdminGrantDays <= 0 {
		errs = append(errs, ErrInvalidGrantDays)
	}
	if c.SyncRateLimit <= 0 || c.SyncRateBurst <= 0 {
		errs = append(errs, ErrInvalidRateLimits)
	}
	return errors.Join(errs...)
}
