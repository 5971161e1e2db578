package domain

import "time"

// PoolStats is a point-in-time view of the pool, returned by GetStats.
// Ceiling is nil until a backend capacity limit has been observed.
type PoolStats struct {
	Warm       int           `json:"warm"`
	Assigned   int           `json:"assigned"`
	Warming    int           `json:"warming"`
	Total      int           `json:"total"`
	Ceiling    *int          `json:"ceiling"`
	WarmTarget int           `json:"warm_target"`
	Refresh    time.Duration `json:"refresh_interval"`
}
