// Package scheduler drives the periodic work of the alert server.
// It handles:
// - The refresh, evaluate and push tick over every active currency
// - Periodic housekeeping such as rate limiter cleanup and stats logging
//
// The scheduler is implemented in jobs.go
package scheduler
