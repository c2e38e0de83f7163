package utils

import (
	"os"
	"strings"
)

func ParseWithFallback(envName string, fallback string) string {
	result := os.Getenv(envName)
	if result == "" {
		result = fallback
	}

	return result
}

// SplitList turns a comma separated env value like "kafka-1:9092, kafka-2:9092"
// into its non-empty trimmed parts.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")

	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}

	return result
}
