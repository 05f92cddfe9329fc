package subscription

import "strings"

// PriceMap maps billing provider price IDs to plan types.
// The first ID listed for a plan is used when creating checkouts.
type PriceMap struct {
	plans   map[string]PlanType
	primary map[PlanType]string
}

// NewPriceMap builds the mapping from monthly and yearly price ID lists.
// Blank entries are ignored.
func NewPriceMap(monthly, yearly []string) PriceMap {
	m := PriceMap{
		plans:   make(map[string]PlanType, len(monthly)+len(yearly)),
		primary: make(map[PlanType]string, 2),
	}
	m.add(PlanMonthly, monthly)
	m.add(PlanYearly, yearly)
	return m
}

func (m PriceMap) add(plan PlanType, ids []string) {
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		m.plans[id] = plan
		if _, ok := m.primary[plan]; !ok {
			m.primary[plan] = id
		}
	}
}

// PlanFor returns the plan mapped to priceRef.
func (m PriceMap) PlanFor(priceRef string) (PlanType, bool) {
	plan, ok := m.plans[priceRef]
	return plan, ok
}

// PriceFor returns the checkout price ID for plan.
func (m PriceMap) PriceFor(plan PlanType) (string, bool) {
	id, ok := m.primary[plan]
	return id, ok
}
