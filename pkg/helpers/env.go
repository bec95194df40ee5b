// Package helpers provides small utilities shared by the counsel packages:
// environment lookups, error wrapping, string checks and pointer helpers.
package helpers

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetStringFromEnv returns the environment variable value or default if not set or empty.
//
// Example:
//
//	model := helpers.GetStringFromEnv("COUNSEL_COMPLETION_MODEL", "claude-sonnet-4-5")
func GetStringFromEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetIntFromEnv returns the environment variable value as int or default if not set or invalid.
//
// Example:
//
//	topK := helpers.GetIntFromEnv("COUNSEL_RETRIEVAL_TOP_K", 15)
func GetIntFromEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetFloatFromEnv returns the environment variable value as float64 or default if not set or invalid.
//
// Example:
//
//	threshold := helpers.GetFloatFromEnv("COUNSEL_CACHE_THRESHOLD", 0.98)
func GetFloatFromEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// GetBoolFromEnv returns the environment variable value as bool or default if not set or invalid.
func GetBoolFromEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDurationFromEnv returns the environment variable value as duration or default if not set or invalid.
//
// Example:
//
//	ttl := helpers.GetDurationFromEnv("COUNSEL_SESSION_TTL", 24*time.Hour)
func GetDurationFromEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetListFromEnv splits a comma separated variable, dropping blank items.
// Returns default when the variable is unset or holds no items.
func GetListFromEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
