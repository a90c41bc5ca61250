package config

import "time"

// GCConfig defines the parameters for the background active expiration
type GCConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`          // how often to run the background check
	SamplesPerCheck int           `mapstructure:"samples_per_check"` // how many keys to check per loop
	MatchThreshold  float64       `mapstructure:"match_threshold"`   // 0.0-1.0. if expired/scanned > threshold, repeat immediately
	MaxRounds       int           `mapstructure:"max_rounds"`        // upper bound of repeated samples within one tick
}

func DefaultGCConfig() GCConfig {
	return GCConfig{
		Enabled:         true,
		Interval:        100 * time.Millisecond,
		SamplesPerCheck: 20,
		MatchThreshold:  0.25,
		MaxRounds:       16,
	}
}
