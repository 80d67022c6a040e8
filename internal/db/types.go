package db

import "time"

// Cookie is a stored browser cookie for the monitored site.
type Cookie struct {
	Domain   string
	Path     string
	Name     string
	Value    string
	Expires  time.Time // zero for session cookies
	Secure   bool
	HTTPOnly bool
}

type UsageSnapshot struct {
	ID             int64
	TsMs           int64
	PollID         string
	APIPercent     float64
	AutoPercent    float64
	TotalPercent   float64
	Used           float64
	Limit          float64
	Remaining      float64
	MembershipType string
	DetailedTotal  float64 // dollars, 0 when no detailed data was known
}
