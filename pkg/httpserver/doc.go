// Package httpserver runs an http.Handler until its context is canceled and
// then drains in-flight requests within the configured shutdown timeout.
// It also provides the liveness and readiness handler used by /healthz.
package httpserver
