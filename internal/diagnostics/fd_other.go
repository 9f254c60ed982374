//go:build !linux && !darwin

package diagnostics

// CountFDs reports 0, 0 where descriptor counts are not available; callers
// treat that as "unknown" rather than "none open".
func CountFDs() (open, limit int) {
	return 0, 0
}
