// Package requestid propagates the X-Request-ID header.
//
// Middleware accepts a well-formed incoming id or generates a UUID, echoes it
// in the response and stores it in the request context. LoggerExtractor
// plugs the id into pkg/logger so every record carries request_id.
package requestid
