package balance

import "time"

// Record is the merged account snapshot shown by the UI. Field names follow
// the JSON shape the local API returns.
type Record struct {
	IsLoggedIn         bool           `json:"isLoggedIn"`
	LastUpdate         int64          `json:"lastUpdate,omitempty"` // unix ms
	User               *User          `json:"user"`
	Usage              *Usage         `json:"usage"`
	Trial              *Trial         `json:"trial"`
	DetailedUsage      *DetailedUsage `json:"detailedUsage"`
	LastDetailedUpdate int64          `json:"lastDetailedUpdate,omitempty"` // unix ms
}

type User struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Usage is the plan usage for the current billing cycle. Percentages are on
// a 0-100 scale.
type Usage struct {
	APIPercentUsed   float64 `json:"apiPercentUsed"`
	AutoPercentUsed  float64 `json:"autoPercentUsed"`
	TotalPercentUsed float64 `json:"totalPercentUsed"`
	Used             float64 `json:"used"`
	Limit            float64 `json:"limit"`
	Remaining        float64 `json:"remaining"`
	MembershipType   string  `json:"membershipType,omitempty"`
	BillingCycleEnd  string  `json:"billingCycleEnd,omitempty"`
}

// BillingCycleEndTime parses BillingCycleEnd, which the service sends either
// as an RFC 3339 timestamp or as unix milliseconds.
func (u Usage) BillingCycleEndTime() (time.Time, bool) {
	return ParseTimestamp(u.BillingCycleEnd)
}

// Trial days are nil when the service did not report them.
type Trial struct {
	DaysRemaining *int `json:"daysRemaining,omitempty"`
	TotalDays     *int `json:"totalDays,omitempty"`
	IsOnTrial     bool `json:"isOnTrial"`
}

const (
	SourceAPI  = "api"
	SourcePage = "page"
)

// DetailedUsage holds spend in dollars split by model family.
type DetailedUsage struct {
	Total      float64 `json:"total"`
	Auto       float64 `json:"auto"`
	Others     float64 `json:"others"`
	EventCount *int    `json:"eventCount,omitempty"`
	Source     string  `json:"source,omitempty"`
}
