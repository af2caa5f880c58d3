// Package redis connects to Redis with retries and exposes a health check.
// The billing service uses the client for the scheduler's distributed lock.
package redis
