package chain

import (
	"math"
	"time"
)

// StepCost is the estimated cost of one step.
type StepCost struct {
	Step  string   `json:"step"`
	Type  StepType `json:"type"`
	Model string   `json:"model"`
	Cost  float64  `json:"cost"`
}

// Estimate is a chain's cost and duration estimate before execution.
type Estimate struct {
	TotalCost float64       `json:"total_cost"`
	StepCosts []StepCost    `json:"step_costs"`
	Currency  string        `json:"currency"`
	Duration  time.Duration `json:"estimated_duration"`
}

// EstimateChain prices every step against the catalog. Costs sum over all
// steps; duration sums over units, counting a parallel group once at its
// slowest member.
func EstimateChain(c *Chain, cat *Catalog) *Estimate {
	est := &Estimate{Currency: "USD"}
	micros := int64(0)

	for _, u := range c.Units {
		if g := u.Group; g != nil {
			slowest := time.Duration(0)
			for i := range g.Steps {
				s := &g.Steps[i]
				cost := cat.CostOf(s.Type, s.Model, s.Params)
				micros += costMicros(cost)
				est.StepCosts = append(est.StepCosts, StepCost{Step: s.Name, Type: s.Type, Model: s.Model, Cost: cost})
				if d := cat.DurationOf(s.Type, s.Model); d > slowest {
					slowest = d
				}
			}
			est.Duration += slowest
			continue
		}

		s := u.Step
		cost := cat.CostOf(s.Type, s.Model, s.Params)
		micros += costMicros(cost)
		est.StepCosts = append(est.StepCosts, StepCost{Step: s.Name, Type: s.Type, Model: s.Model, Cost: cost})
		est.Duration += cat.DurationOf(s.Type, s.Model)
	}

	est.TotalCost = float64(micros) / 1e6
	return est
}

// costMicros converts a USD amount to integer microdollars so that
// summing many step costs never accumulates float drift.
func costMicros(usd float64) int64 {
	return int64(math.Round(usd * 1e6))
}
