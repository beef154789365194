package pastes

import "time"

// CutoffMillis returns the smallest Unix millisecond instant that is not before now.
// A millisecond-aligned expiry e is still alive at now exactly when e >= CutoffMillis(now).
func CutoffMillis(now time.Time) int64 {
	millis := now.UnixMilli()
	if now.After(time.UnixMilli(millis)) {
		millis++
	}
	return millis
}

// IsAliveAt reports whether the paste may still be read at now.
func (p Paste) IsAliveAt(now time.Time) bool {
	if p.ExpiresAtMillis != nil && *p.ExpiresAtMillis < CutoffMillis(now) {
		return false
	}
	return !p.QuotaExhausted()
}

// QuotaExhausted reports whether every allowed view has been consumed.
func (p Paste) QuotaExhausted() bool {
	return p.MaxViews != nil && p.ViewCount >= *p.MaxViews
}

// RemainingViews returns nil for unlimited pastes, otherwise the views left, floored at zero.
func (p Paste) RemainingViews() *int64 {
	if p.MaxViews == nil {
		return nil
	}
	remaining := *p.MaxViews - p.ViewCount
	if remaining < 0 {
		remaining = 0
	}
	return pointerTo(remaining)
}
