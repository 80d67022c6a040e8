package cursorapi

import "fmt"

// Me is the signed-in user. An empty Email means the session is not valid.
type Me struct {
	Email string
	Name  string
}

// Plan mirrors individualUsage.plan of the usage summary.
type Plan struct {
	APIPercentUsed   float64
	AutoPercentUsed  float64
	TotalPercentUsed float64
	Used             float64
	Limit            float64
	Remaining        float64
}

type UsageSummary struct {
	Plan            Plan
	MembershipType  string
	BillingCycleEnd string
	// BillingCycleStart is read when present so detailed usage can be
	// bounded to the current cycle.
	BillingCycleStart string
}

// Stripe is the subscription record. Trial fields stay nil when the
// service omits them.
type Stripe struct {
	DaysRemainingOnTrial *int
	TrialLengthDays      *int
	MembershipType       string
}

type UsageEvent struct {
	Model string
	Cost  float64
}

type UsageEvents struct {
	TotalCount int
	Events     []UsageEvent
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.Code, e.Body)
}
