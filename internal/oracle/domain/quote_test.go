package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCheckFresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	tests := []struct {
		name       string
		observedAt time.Time
		wantStale  bool
	}{
		{"just observed", now, false},
		{"within window", now.Add(-30 * time.Second), false},
		{"at window boundary", now.Add(-window), false},
		{"past window", now.Add(-window - time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &Quote{Symbol: "BTC", ObservedAt: tt.observedAt}
			err := q.CheckFresh(now, window)
			if tt.wantStale && !errors.Is(err, ErrStalePrice) {
				t.Errorf("expected ErrStalePrice, got %v", err)
			}
			if !tt.wantStale && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
