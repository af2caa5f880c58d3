// Package logger builds *slog.Logger instances for the billing service.
//
// New applies functional options (format, level, static attributes,
// environment presets) and wraps the resulting handler in a
// LogHandlerDecorator that appends request-scoped attributes, such as the
// request id, taken from the context on every call.
//
// Attribute helpers in attr.go keep key names consistent across packages:
//
//	log.InfoContext(ctx, "subscription reconciled",
//		logger.UserID(userID),
//		logger.SubscriptionID(sub.SubscriptionID),
//	)
package logger
