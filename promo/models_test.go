package promo_test

import (
	"testing"
	"time"

	"github.com/vetsage/entitle/promo"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bonus_10", "BONUS_10"},
		{"  Bonus_10  ", "BONUS_10"},
		{"WELCOME", "WELCOME"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := promo.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if (&promo.Code{}).Expired(now) {
		t.Error("code without expiry should never expire")
	}
	if (&promo.Code{ExpiresAt: &future}).Expired(now) {
		t.Error("future expiry should not be expired")
	}
	if !(&promo.Code{ExpiresAt: &past}).Expired(now) {
		t.Error("past expiry should be expired")
	}
	if !(&promo.Code{ExpiresAt: &now}).Expired(now) {
		t.Error("expiry exactly now should count as expired")
	}
}

func TestExhausted(t *testing.T) {
	tests := []struct {
		name    string
		max     int64
		current int64
		want    bool
	}{
		{"unlimited", 0, 1000, false},
		{"under budget", 5, 4, false},
		{"at budget", 5, 5, true},
		{"over budget", 5, 6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &promo.Code{MaxUses: tt.max, CurrentUses: tt.current}
			if got := c.Exhausted(); got != tt.want {
				t.Errorf("Exhausted = %v, want %v", got, tt.want)
			}
		})
	}
}
