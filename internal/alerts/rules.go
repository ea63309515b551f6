package alerts

import "wplacebot/internal/models"

// Observation is what one tick saw for an account.
type Observation struct {
	Current    float64
	Max        float64
	ETASeconds float64
}

type Decision struct {
	Fires bool
	Next  models.RuleState
}

// Transition evaluates rule against obs. It fires only on an observed edge:
// a rule without a previous observation records a baseline and stays quiet.
// Next always carries obs, so a condition that keeps holding fires once.
func Transition(rule models.NotifyRule, obs Observation) Decision {
	prev := rule.State
	next := prev
	cur, eta := obs.Current, obs.ETASeconds
	next.LastObservedCurrent = &cur
	next.LastObservedEtaSeconds = &eta

	fires := false
	switch rule.Type {
	case models.RuleFull:
		fires = prev.LastObservedCurrent != nil &&
			*prev.LastObservedCurrent < obs.Max &&
			obs.Current >= obs.Max
	case models.RuleBeforeFull:
		if rule.Minutes != nil && *rule.Minutes > 0 {
			limit := float64(*rule.Minutes * 60)
			fires = prev.LastObservedEtaSeconds != nil &&
				*prev.LastObservedEtaSeconds > limit &&
				obs.ETASeconds <= limit &&
				obs.Current < obs.Max
		}
	case models.RuleThreshold:
		if rule.Threshold != nil {
			th := *rule.Threshold
			fires = prev.LastObservedCurrent != nil &&
				*prev.LastObservedCurrent < th &&
				obs.Current >= th
		}
	}
	return Decision{Fires: fires, Next: next}
}
