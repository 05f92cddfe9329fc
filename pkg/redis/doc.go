// Package redis connects to the Redis instance shared by all service
// replicas. The idempotency and rate limiter packages build on the client
// returned by Connect; Healthcheck plugs into the health endpoint.
package redis
