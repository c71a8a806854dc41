package quota_test

import (
	"testing"
	"time"

	"github.com/vetsage/entitle/quota"
)

func TestMarkers(t *testing.T) {
	at := time.Date(2025, 3, 7, 23, 59, 0, 0, time.UTC)

	if got := quota.DayMarker(at); got != "2025-03-07" {
		t.Errorf("DayMarker = %q, want 2025-03-07", got)
	}
	if got := quota.MonthMarker(at); got != "2025-03" {
		t.Errorf("MonthMarker = %q, want 2025-03", got)
	}
	if got := quota.DailyText.Marker(at); got != "2025-03-07" {
		t.Errorf("DailyText.Marker = %q", got)
	}
	if got := quota.MonthlyPhoto.Marker(at); got != "2025-03" {
		t.Errorf("MonthlyPhoto.Marker = %q", got)
	}
}

func TestCurrent(t *testing.T) {
	now := time.Date(2025, 3, 8, 0, 0, 1, 0, time.UTC)

	tests := []struct {
		name   string
		marker string
		kind   quota.Kind
		want   bool
	}{
		{"same day", "2025-03-08", quota.DailyText, true},
		{"yesterday", "2025-03-07", quota.DailyText, false},
		{"empty marker", "", quota.DailyText, false},
		{"same month", "2025-03", quota.MonthlyPhoto, true},
		{"last month", "2025-02", quota.MonthlyPhoto, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := quota.Current(tt.marker, tt.kind, now); got != tt.want {
				t.Errorf("Current(%q, %s) = %v, want %v", tt.marker, tt.kind, got, tt.want)
			}
		})
	}
}

func TestValid(t *testing.T) {
	if !quota.DailyText.Valid() || !quota.MonthlyPhoto.Valid() {
		t.Error("known kinds should be valid")
	}
	if quota.Kind("weekly_audio").Valid() {
		t.Error("unknown kind should not be valid")
	}
	if !quota.DailyText.Daily() {
		t.Error("DailyText should be daily")
	}
	if quota.MonthlyPhoto.Daily() {
		t.Error("MonthlyPhoto should not be daily")
	}
}
