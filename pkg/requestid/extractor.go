package requestid

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/lmsadmin/pkg/logger"
)

// LoggerExtractor adds the request id to every log record written with a request context.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if requestID := FromContext(ctx); requestID != "" {
			return logger.RequestID(requestID), true
		}
		return slog.Attr{}, false
	}
}
