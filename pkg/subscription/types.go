package subscription

// Feature is a metered capability guarded by the entitlement gate.
type Feature string

const (
	FeatureDetection    Feature = "detection"
	FeatureHumanization Feature = "humanization"
)

// Valid reports whether f is one of the metered features.
func (f Feature) Valid() bool {
	switch f {
	case FeatureDetection, FeatureHumanization:
		return true
	}
	return false
}

// Features lists every metered feature in a stable order.
func Features() []Feature {
	return []Feature{FeatureDetection, FeatureHumanization}
}

// PlanType determines which quota policy applies to a record.
type PlanType string

const (
	PlanFree    PlanType = "free"
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// Valid reports whether p is a known plan type.
func (p PlanType) Valid() bool {
	switch p {
	case PlanFree, PlanMonthly, PlanYearly:
		return true
	}
	return false
}

// IsPaid returns true for plans billed through the provider.
func (p PlanType) IsPaid() bool {
	return p == PlanMonthly || p == PlanYearly
}

// Status mirrors the billing provider's subscription state.
type Status string

const (
	StatusActive     Status = "active"
	StatusCanceled   Status = "canceled"
	StatusPastDue    Status = "past_due"
	StatusTrialing   Status = "trialing"
	StatusIncomplete Status = "incomplete"
)

// ParseStatus normalizes a provider status string.
// Unknown values map to StatusIncomplete so they never grant paid access.
func ParseStatus(s string) Status {
	switch s {
	case "active":
		return StatusActive
	case "canceled", "cancelled", "incomplete_expired", "expired":
		return StatusCanceled
	case "past_due", "unpaid":
		return StatusPastDue
	case "trialing":
		return StatusTrialing
	default:
		return StatusIncomplete
	}
}

const (
	// Unlimited indicates no limit for a feature (-1 chosen for SQL compatibility)
	Unlimited int64 = -1
)

// Usage holds the per-feature counters for the current billing period.
type Usage struct {
	Detections    int64 `json:"detections" bson:"detections"`
	Humanizations int64 `json:"humanizations" bson:"humanizations"`
}

// Get returns the counter for the given feature.
func (u Usage) Get(f Feature) int64 {
	switch f {
	case FeatureDetection:
		return u.Detections
	case FeatureHumanization:
		return u.Humanizations
	}
	return 0
}

// Field returns the storage field name of the counter for f.
func (f Feature) Field() string {
	switch f {
	case FeatureDetection:
		return "detections"
	case FeatureHumanization:
		return "humanizations"
	}
	return ""
}
