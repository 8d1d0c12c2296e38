package moment

import "time"

// Record is the most recent moment observed for a region. The zero value
// (empty ID) means the region has never been observed.
type Record struct {
	ID        string    `json:"id"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// IsBaseline reports whether r is the "never observed" sentinel.
func (r Record) IsBaseline() bool { return r.ID == "" }
