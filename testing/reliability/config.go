package reliability

import (
	"os"
	"strconv"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	Level     string // "basic" or "stress"
	Depth     int    // recursion depth for deep stack tests
	Events    int    // notifications pushed through saturation tests
	MaxEvents int    // buffer bound used by saturation tests
}

// getReliabilityConfig reads configuration from environment variables.
func getReliabilityConfig() ReliabilityConfig {
	config := ReliabilityConfig{
		Level:     getEnv("CALLTRACE_RELIABILITY_LEVEL", ""),
		Depth:     parseInt(getEnv("CALLTRACE_RELIABILITY_DEPTH", "2000"), 2000),
		Events:    parseInt(getEnv("CALLTRACE_RELIABILITY_EVENTS", "200000"), 200000),
		MaxEvents: parseInt(getEnv("CALLTRACE_RELIABILITY_MAX_EVENTS", "50000"), 50000),
	}
	if config.Level == "stress" {
		config.Depth *= 10
		config.Events *= 10
	}
	return config
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInt parses a positive integer with a fallback.
func parseInt(s string, fallback int) int {
	if value, err := strconv.Atoi(s); err == nil && value > 0 {
		return value
	}
	return fallback
}
