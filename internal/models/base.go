package models

import "time"

// BaseEntry is one canonical loading base in the auto-built directory.
type BaseEntry struct {
	Key           string    `json:"baseKey"`
	CanonicalName string    `json:"canonicalName"`
	City          string    `json:"city,omitempty"`
	ExamplesCount int64     `json:"examplesCount"`
	LastSeen      time.Time `json:"lastSeen"`
}
