// Package quota defines the meterable usage kinds and their period
// arithmetic. Counters themselves live on the user row; this package
// only knows how periods are labeled and when a stored counter has
// rolled over.
package quota

import "time"

// Kind identifies one metered counter.
type Kind string

const (
	// DailyText meters text requests, reset at local midnight.
	DailyText Kind = "daily_text"
	// MonthlyPhoto meters photo analyses, reset on the first of the month.
	MonthlyPhoto Kind = "monthly_photo"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == DailyText || k == MonthlyPhoto
}

// Daily reports whether the kind resets daily rather than monthly.
func (k Kind) Daily() bool { return k == DailyText }

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// DayMarker renders the daily period label for an instant.
func DayMarker(t time.Time) string { return t.Format(dayLayout) }

// MonthMarker renders the monthly period label for an instant.
func MonthMarker(t time.Time) string { return t.Format(monthLayout) }

// Marker renders the period label appropriate for the kind.
func (k Kind) Marker(t time.Time) string {
	if k.Daily() {
		return DayMarker(t)
	}
	return MonthMarker(t)
}

// Current compares a stored period marker against now. A counter whose
// marker differs from the current period reads as zero; the reset is
// applied lazily by the store on the next consume or peek.
func Current(marker string, k Kind, now time.Time) bool {
	return marker == k.Marker(now)
}
