package subscription

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// Default free-tier monthly quotas.
const (
	DefaultFreeDetections    int64 = 5
	DefaultFreeHumanizations int64 = 3
)

// Policy is the quota table: per plan type, per feature monthly limit.
// A missing feature entry or Unlimited means no cap.
type Policy struct {
	limits map[PlanType]map[Feature]int64
}

// DefaultPolicy returns the built-in quota table: free users get a small
// monthly allowance, paid plans are unlimited.
func DefaultPolicy() Policy {
	return Policy{
		limits: map[PlanType]map[Feature]int64{
			PlanFree: {
				FeatureDetection:    DefaultFreeDetections,
				FeatureHumanization: DefaultFreeHumanizations,
			},
			PlanMonthly: {
				FeatureDetection:    Unlimited,
				FeatureHumanization: Unlimited,
			},
			PlanYearly: {
				FeatureDetection:    Unlimited,
				FeatureHumanization: Unlimited,
			},
		},
	}
}

// NewPolicy builds a policy from an explicit table. Plans absent from the
// table fall back to the default policy.
func NewPolicy(limits map[PlanType]map[Feature]int64) (Policy, error) {
	p := DefaultPolicy()
	for plan, features := range limits {
		if !plan.Valid() {
			return Policy{}, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("unknown plan type %q", plan))
		}
		for feature, limit := range features {
			if !feature.Valid() {
				return Policy{}, errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s: unknown feature %q", plan, feature))
			}
			if limit < Unlimited {
				return Policy{}, errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s: negative limit %d for %s", plan, limit, feature))
			}
		}
		p.limits[plan] = maps.Clone(features)
	}
	return p, nil
}

// Limit returns the monthly cap for a feature on a plan.
func (p Policy) Limit(plan PlanType, feature Feature) int64 {
	features, ok := p.limits[plan]
	if !ok {
		// Unknown plans get the free allowance
		features = p.limits[PlanFree]
	}
	limit, ok := features[feature]
	if !ok {
		return Unlimited
	}
	return limit
}

// policyFile is the YAML layout of a plans file:
//
//	plans:
//	  free:
//	    detection: 5
//	    humanization: 3
//	  monthly:
//	    detection: -1
type policyFile struct {
	Plans map[PlanType]map[Feature]int64 `yaml:"plans"`
}

// LoadPolicyFile reads quota overrides from a YAML file.
// An empty path yields the default policy.
func LoadPolicyFile(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, errors.Join(ErrFailedToLoadPolicy, err)
	}

	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML plans document.
func ParsePolicy(data []byte) (Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Policy{}, errors.Join(ErrFailedToLoadPolicy, err)
	}
	return NewPolicy(f.Plans)
}
