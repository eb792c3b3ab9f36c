package models

// Metric is one analytics figure plus its 30-day delta where the remote
// function provides one.
type Metric struct {
	Value  float64 `json:"value"`
	Change float64 `json:"change,omitempty"`
}

type TopCustomer struct {
	Name   string `json:"name"`
	Stamps int    `json:"stamps"`
}

// AnalyticsSnapshot is the aggregate returned by the get-analytics function.
type AnalyticsSnapshot struct {
	TotalCustomers    Metric       `json:"total_customers"`
	RepeatCustomers   Metric       `json:"repeat_customers"`
	StampsIssued      Metric       `json:"stamps_issued"`
	PrizesRedeemed    Metric       `json:"prizes_redeemed"`
	AvgVisitFrequency Metric       `json:"avg_visit_frequency"`
	TopCustomer       *TopCustomer `json:"top_customer,omitempty"`
	ReferralSignups   Metric       `json:"referral_signups"`
	TopReferrer       string       `json:"top_referrer,omitempty"`
	IsLive            bool         `json:"is_live"`
}

type SegmentCounts struct {
	New    int `json:"new"`
	Loyal  int `json:"loyal"`
	VIPs   int `json:"vips"`
	AtRisk int `json:"at_risk"`
}

type VisitStats struct {
	AvgDaysBetweenVisits float64 `json:"avg_days_between_visits"`
	MedianVisits         int     `json:"median_visits"`
}

// CustomerSegments is the payload of the get-customer-segments function.
type CustomerSegments struct {
	Segments   SegmentCounts `json:"segments"`
	VisitStats VisitStats    `json:"visit_stats"`
}
