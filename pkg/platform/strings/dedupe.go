// Package strings cleans identifier lists reported by radios.
package strings

import (
	"strings"
)

// Dedupe folds every value, drops empty results and keeps the first
// occurrence of each folded value. A nil input stays nil.
func Dedupe(values []string, fold func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		f := fold(v)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		result = append(result, f)
	}
	return result
}

// DedupeAndTrimLower also lowercases, for case-insensitive identifiers such
// as BLE service UUIDs.
func DedupeAndTrimLower(values []string) []string {
	return Dedupe(values, func(v string) string {
		return strings.ToLower(strings.TrimSpace(v))
	})
}
