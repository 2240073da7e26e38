package seed

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
)

var (
	ErrInvalidWeights    = errors.New("invalid tier weights")
	ErrDampingOutOfRange = errors.New("damping out of range")
)

const (
	MinDamping  = 0.70
	MaxDamping  = 0.90
	FlatDamping = 0.85

	weightTolerance = 1e-6
)

// Built-in weight profiles.
var (
	ProfileEntityFocused = common.WeightProfile{Label: "entity_focused", W1: 0.6, W2: 0.2, W3: 0.2}
	ProfileBalanced      = common.WeightProfile{Label: "balanced", W1: 0.4, W2: 0.3, W3: 0.3}
	ProfileThematic      = common.WeightProfile{Label: "thematic", W1: 0.2, W2: 0.2, W3: 0.6}
	ProfileStructural    = common.WeightProfile{Label: "structural", W1: 0.2, W2: 0.6, W3: 0.2}
)

var profiles = map[string]common.WeightProfile{
	ProfileEntityFocused.Label: ProfileEntityFocused,
	ProfileBalanced.Label:      ProfileBalanced,
	ProfileThematic.Label:      ProfileThematic,
	ProfileStructural.Label:    ProfileStructural,
}

// ProfileByName returns a built-in profile. The empty name selects balanced.
func ProfileByName(name string) (common.WeightProfile, error) {
	if name == "" {
		return ProfileBalanced, nil
	}
	p, ok := profiles[name]
	if !ok {
		return common.WeightProfile{}, fmt.Errorf("%w: unknown profile %q", ErrInvalidWeights, name)
	}
	return p, nil
}

// ProfileNames lists the built-in profile labels in sorted order.
func ProfileNames() []string {
	out := make([]string, 0, len(profiles))
	for name := range profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ValidateProfile checks that every weight lies in [0,1] and the weights sum to 1.
func ValidateProfile(p common.WeightProfile) error {
	var sum float64
	for i, w := range p.Weights() {
		if math.IsNaN(w) || w < 0 || w > 1 {
			return fmt.Errorf("%w: w%d=%v in profile %q", ErrInvalidWeights, i+1, w, p.Label)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: profile %q sums to %v", ErrInvalidWeights, p.Label, sum)
	}
	return nil
}

// Redistribute moves the weight of empty tiers onto the nonempty ones in
// proportion to their own weight. Nonempty tiers that all carry zero weight
// share equally. When every tier is empty the result is all zeros; otherwise
// it sums to 1.
func Redistribute(weights [3]float64, nonEmpty [3]bool) [3]float64 {
	var out [3]float64
	var sum float64
	var count int
	for i := range weights {
		if !nonEmpty[i] {
			continue
		}
		count++
		sum += weights[i]
	}
	if count == 0 {
		return out
	}
	for i := range weights {
		if !nonEmpty[i] {
			continue
		}
		if sum <= 0 {
			out[i] = 1 / float64(count)
		} else {
			out[i] = weights[i] / sum
		}
	}
	return out
}

// Damping maps the effective entity weight to a damping factor in
// [MinDamping, MaxDamping]. A result outside that range is never clamped.
func Damping(w1 float64) (float64, error) {
	d := MinDamping + 0.20*w1
	if math.IsNaN(d) || d < MinDamping-weightTolerance || d > MaxDamping+weightTolerance {
		return 0, fmt.Errorf("%w: %v from w1=%v", ErrDampingOutOfRange, d, w1)
	}
	return d, nil
}
