// Package mongo connects to the MongoDB deployment backing the mongo record
// store. Config is read from MONGODB_* environment variables; New retries the
// initial connection and Healthcheck wraps Ping for the health endpoint.
package mongo
