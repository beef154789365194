package pastes

import (
	"regexp"
	"testing"
)

func TestNewIDProviderSchemes(t *testing.T) {
	tests := []struct {
		scheme  string
		length  int
		pattern *regexp.Regexp
	}{
		{scheme: IDSchemeNanoID, length: 12, pattern: regexp.MustCompile(`^[A-Za-z0-9_-]{12}$`)},
		{scheme: "", length: 0, pattern: regexp.MustCompile(`^[A-Za-z0-9_-]{12}$`)},
		{scheme: IDSchemeUUID, length: 8, pattern: regexp.MustCompile(`^[0-9a-f]{8}$`)},
		{scheme: IDSchemeUUID, length: 64, pattern: regexp.MustCompile(`^[0-9a-f]{32}$`)},
	}

	for _, tt := range tests {
		provider, err := NewIDProvider(tt.scheme, tt.length)
		if err != nil {
			t.Fatalf("unexpected provider error for %q: %v", tt.scheme, err)
		}
		id, err := provider.NewID()
		if err != nil {
			t.Fatalf("unexpected id error: %v", err)
		}
		if !tt.pattern.MatchString(id) {
			t.Fatalf("scheme %q length %d produced unexpected id %q", tt.scheme, tt.length, id)
		}
	}
}

func TestNewIDProviderRejectsUnknownScheme(t *testing.T) {
	if _, err := NewIDProvider("sequential", 8); err == nil {
		t.Fatalf("expected unknown scheme error")
	}
}
