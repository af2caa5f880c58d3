// Package billing is the HTTP face of the subscription service.
//
// It serves the Stripe webhook endpoint, the user billing actions (checkout,
// post-checkout sync, resync, cancel, reactivate, customer portal), the
// admin grant, resync and sweep routes, readiness probes and Prometheus
// metrics. Admin actions are written to an audit.Storage and can be listed
// from /admin/billing/audit.
// Caller identity comes from the X-User-ID and X-User-Role headers set by
// the upstream gateway; this package does not authenticate.
//
// The Postgres stores live in the pgstore subpackage and their schema in
// migrations. RegisterJobs wires the daily expiry sweep into a scheduler.
package billing
