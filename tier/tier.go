package tier

// Tier is a service level. The zero value is not valid; use Free.
type Tier string

const (
	Free Tier = "free"
	Plus Tier = "plus"
	Pro  Tier = "pro"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case Free, Plus, Pro:
		return true
	}
	return false
}

// Parse normalizes a stored tier label. Unknown or empty labels map to
// Free so stale column values never elevate anyone.
func Parse(s string) Tier {
	t := Tier(s)
	if !t.Valid() {
		return Free
	}
	return t
}

// Limits holds the quota caps for one tier. A nil field means
// unlimited for that kind.
type Limits struct {
	DailyText    *int64 `json:"daily_text,omitempty"`
	MonthlyPhoto *int64 `json:"monthly_photo,omitempty"`
}

// Table maps each tier to its limits. Missing entries mean unlimited.
type Table map[Tier]Limits

func limit(n int64) *int64 { return &n }

// DefaultTable returns the stock quota configuration.
func DefaultTable() Table {
	return Table{
		Free: {DailyText: limit(5), MonthlyPhoto: limit(1)},
		Plus: {DailyText: limit(50), MonthlyPhoto: limit(10)},
		Pro:  {MonthlyPhoto: limit(20)},
	}
}
