// Package idempotency remembers processed keys for a bounded time so
// redelivered work can be skipped.
//
// It backs webhook event deduplication: the reconciler asks Seen before
// applying an event and calls Mark once the event is applied. Marks expire
// after the configured TTL, which should exceed the provider's redelivery
// window.
//
// RedisStore shares marks across replicas. MemoryStore is a bounded LRU for
// single-instance deployments and tests.
package idempotency
