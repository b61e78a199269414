package model

import "time"

// Shared defaults used across the server wiring.
const (
	DefaultScanLimit       = 500
	DefaultSearchLimit     = 100
	DefaultScoreInterval   = 2 * time.Second
	DefaultScoreBatchSize  = 256
	DefaultRetentionDays   = 30
	DefaultRetentionPeriod = 24 * time.Hour
	DefaultRetentionBatch  = 5000
)
