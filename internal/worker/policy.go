package worker

import (
	"fmt"

	"github.com/yokitheyo/diagramq/internal/engine"
)

// ProgressPolicy decides how often progress is written and what percent a
// fragment count maps to: min(Floor + n/Divisor, Ceiling).
type ProgressPolicy struct {
	Every   int
	Floor   int
	Divisor int
	Ceiling int
}

var familyPolicies = map[string]ProgressPolicy{
	engine.FamilyGemma:   {Every: 5, Floor: 10, Divisor: 3, Ceiling: 95},
	engine.FamilyPhi3:    {Every: 5, Floor: 10, Divisor: 4, Ceiling: 95},
	engine.FamilyLlama32: {Every: 8, Floor: 15, Divisor: 5, Ceiling: 98},
	engine.FamilyQwen:    {Every: 5, Floor: 10, Divisor: 3, Ceiling: 95},
}

// DefaultPolicy returns the progress policy tuned for an engine family.
func DefaultPolicy(family string) ProgressPolicy {
	if p, ok := familyPolicies[family]; ok {
		return p
	}
	return familyPolicies[engine.FamilyGemma]
}

func (p ProgressPolicy) Validate() error {
	switch {
	case p.Every < 1:
		return fmt.Errorf("progress every must be >= 1, got %d", p.Every)
	case p.Divisor < 1:
		return fmt.Errorf("progress divisor must be >= 1, got %d", p.Divisor)
	case p.Floor < 0 || p.Floor > p.Ceiling:
		return fmt.Errorf("progress floor %d must be within [0, ceiling]", p.Floor)
	case p.Ceiling >= 100:
		return fmt.Errorf("progress ceiling must be below 100, got %d", p.Ceiling)
	}
	return nil
}

// Due reports whether the n-th fragment triggers a progress write.
func (p ProgressPolicy) Due(n int) bool {
	return n > 0 && n%p.Every == 0
}

func (p ProgressPolicy) Percent(n int) int {
	return min(p.Floor+n/p.Divisor, p.Ceiling)
}
