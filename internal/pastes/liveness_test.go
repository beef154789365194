package pastes

import (
	"testing"
	"time"
)

func TestCutoffMillisRoundsUpToNextMillisecond(t *testing.T) {
	aligned := time.UnixMilli(1700000000123)
	if got := CutoffMillis(aligned); got != 1700000000123 {
		t.Fatalf("expected aligned instant to map to itself, got %d", got)
	}
	if got := CutoffMillis(aligned.Add(time.Nanosecond)); got != 1700000000124 {
		t.Fatalf("expected sub-millisecond offset to round up, got %d", got)
	}
	if got := CutoffMillis(aligned.Add(999 * time.Microsecond)); got != 1700000000124 {
		t.Fatalf("expected 999us offset to round up, got %d", got)
	}
}

func TestPasteIsAliveAt(t *testing.T) {
	expiresAt := testEpoch.Add(time.Minute)

	tests := []struct {
		name      string
		paste     Paste
		now       time.Time
		wantAlive bool
	}{
		{
			name:      "no-limits",
			paste:     Paste{ViewCount: 1000},
			now:       testEpoch.Add(100 * 365 * 24 * time.Hour),
			wantAlive: true,
		},
		{
			name:      "before-expiry",
			paste:     Paste{ExpiresAtMillis: int64Pointer(expiresAt.UnixMilli())},
			now:       expiresAt.Add(-time.Millisecond),
			wantAlive: true,
		},
		{
			name:      "exactly-at-expiry",
			paste:     Paste{ExpiresAtMillis: int64Pointer(expiresAt.UnixMilli())},
			now:       expiresAt,
			wantAlive: true,
		},
		{
			name:      "one-nanosecond-after-expiry",
			paste:     Paste{ExpiresAtMillis: int64Pointer(expiresAt.UnixMilli())},
			now:       expiresAt.Add(time.Nanosecond),
			wantAlive: false,
		},
		{
			name:      "quota-remaining",
			paste:     Paste{MaxViews: int64Pointer(2), ViewCount: 1},
			now:       testEpoch,
			wantAlive: true,
		},
		{
			name:      "quota-exhausted",
			paste:     Paste{MaxViews: int64Pointer(2), ViewCount: 2},
			now:       testEpoch,
			wantAlive: false,
		},
		{
			name:      "quota-remaining-but-expired",
			paste:     Paste{MaxViews: int64Pointer(5), ExpiresAtMillis: int64Pointer(expiresAt.UnixMilli())},
			now:       expiresAt.Add(time.Second),
			wantAlive: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.paste.IsAliveAt(tt.now); got != tt.wantAlive {
				t.Fatalf("alive mismatch, want %v got %v", tt.wantAlive, got)
			}
		})
	}
}

func TestRemainingViews(t *testing.T) {
	unlimited := Paste{ViewCount: 3}
	if unlimited.RemainingViews() != nil {
		t.Fatalf("expected nil remaining views for unlimited paste")
	}

	limited := Paste{MaxViews: int64Pointer(3), ViewCount: 1}
	if remaining := limited.RemainingViews(); remaining == nil || *remaining != 2 {
		t.Fatalf("expected 2 remaining views, got %v", remaining)
	}

	overdrawn := Paste{MaxViews: int64Pointer(1), ViewCount: 4}
	if remaining := overdrawn.RemainingViews(); remaining == nil || *remaining != 0 {
		t.Fatalf("expected remaining views floored at zero, got %v", remaining)
	}
}
