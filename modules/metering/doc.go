// Package metering mounts the usage and billing HTTP API:
//
//	GET  /subscription/{userId}   plan, status and this month's usage
//	POST /update-usage            count one unit of usage
//	POST /reset-usage             zero every counter (internal API key)
//	POST /webhook                 billing provider events
//	POST /checkout, /portal       hosted billing pages
//	POST /detect, /humanize       gated text features
//	GET  /healthz, /metrics
//
// Route groups whose dependencies are not configured are not mounted.
package metering
