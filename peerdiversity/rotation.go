package peerdiversity

import "sort"

// RiskIndicators are the four tripwires spec §4.6 uses to derive an
// eclipse-risk level: low diversity score, address-convergence (many peer
// advertisements naming a small set of peers), churn anomaly, and
// inbound-ratio excess.
type RiskIndicators struct {
	LowDiversity      bool
	AddressConvergence bool
	ChurnAnomaly      bool
	InboundExcess     bool
}

// EclipseRisk classifies risk from the fraction of tripped indicators (spec
// §4.6): 0 tripped => Safe, 1 => Elevated, 2 => High, 3-4 => Critical.
func EclipseRisk(ind RiskIndicators) RiskLevel {
	tripped := 0
	for _, b := range []bool{ind.LowDiversity, ind.AddressConvergence, ind.ChurnAnomaly, ind.InboundExcess} {
		if b {
			tripped++
		}
	}
	switch {
	case tripped == 0:
		return Safe
	case tripped == 1:
		return Elevated
	case tripped == 2:
		return High
	default:
		return Critical
	}
}

// RotationCandidate is one peer under consideration for forced rotation.
type RotationCandidate struct {
	ID                     PeerID
	BehaviorScore          float64
	DiversityContribution  float64 // higher means the peer helps diversity more
	Anchor                 bool
}

// PlanRotation selects up to RotationPercentage of non-anchor candidates
// with the lowest behavior-adjusted diversity contribution for forced
// disconnection (spec §4.6 "Forced rotation"). Anchor peers are always
// exempt. The ranking key is BehaviorScore * DiversityContribution, low to
// high, so a peer with both a poor behavior score and a low diversity
// contribution rotates first.
func PlanRotation(candidates []RotationCandidate) []PeerID {
	eligible := make([]RotationCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Anchor {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].BehaviorScore*eligible[i].DiversityContribution <
			eligible[j].BehaviorScore*eligible[j].DiversityContribution
	})
	n := int(float64(len(eligible)) * RotationPercentage)
	if n == 0 && len(eligible) > 0 {
		n = 1
	}
	if n > len(eligible) {
		n = len(eligible)
	}
	out := make([]PeerID, n)
	for i := 0; i < n; i++ {
		out[i] = eligible[i].ID
	}
	return out
}
