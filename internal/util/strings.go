// Package util holds small helpers shared across packages, chiefly for
// logging sensitive values safely.
package util

// SafeTruncate returns at most maxLen bytes of s without panicking.
// Codes and tokens are bearer credentials; log lines carry only a short
// prefix produced by this helper.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
