// Package audit records who changed what, for state changes that leave no
// trace at the billing provider.
//
// A Logger builds an Event, fills the actor and request id from the context
// and hands it to a Storage:
//
//	l := audit.NewLogger(storage,
//		audit.WithActorExtractor(actorFromContext),
//		audit.WithRequestIDExtractor(requestIDFromContext),
//	)
//	err := l.Log(ctx, "billing.admin.grant",
//		audit.WithResource("user", userID),
//		audit.WithMetadata("duration_days", 30),
//	)
//
// Failed attempts go through LogError and carry the error text. A Reader
// queries stored events newest first.
//
// MemoryStorage keeps events in process and suits tests and local runs.
// Durable storage lives next to the other tables of the owning service.
package audit
