package pipeline

import (
	"math"
	"time"
)

// Outcome is the result of one attempted step.
type Outcome struct {
	StepName string        `json:"step_name"`
	Success  bool          `json:"success"`
	Output   interface{}   `json:"output,omitempty"`
	Err      *StepError    `json:"error,omitempty"`
	Cost     float64       `json:"cost"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Report is the complete record of a run: outcomes in declaration order
// (never completion order), aggregate totals, and the terminal status.
// Reports are immutable once returned.
type Report struct {
	ChainName      string                 `json:"chain_name"`
	Outcomes       []Outcome              `json:"outcomes"`
	TotalCost      float64                `json:"total_cost"`
	TotalElapsed   time.Duration          `json:"total_elapsed"`
	StepsCompleted int                    `json:"steps_completed"`
	TotalSteps     int                    `json:"total_steps"`
	OverallSuccess bool                   `json:"overall_success"`
	Outputs        map[string]interface{} `json:"outputs,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// FailedSteps lists the names of failed steps in declaration order.
func (r *Report) FailedSteps() []string {
	var failed []string
	for _, o := range r.Outcomes {
		if !o.Success {
			failed = append(failed, o.StepName)
		}
	}
	return failed
}

// reportBuilder accumulates outcomes during a run. Costs are summed in
// integer microdollars so many small step costs never pick up float
// drift.
type reportBuilder struct {
	report         Report
	micros         int64
	requiredFailed bool
}

func newReportBuilder(chainName string, totalSteps int) *reportBuilder {
	return &reportBuilder{
		report: Report{
			ChainName:  chainName,
			TotalSteps: totalSteps,
		},
	}
}

func (b *reportBuilder) add(o Outcome, optional bool) {
	b.report.Outcomes = append(b.report.Outcomes, o)
	b.micros += int64(math.Round(o.Cost * 1e6))
	if o.Success {
		b.report.StepsCompleted++
	} else if !optional {
		b.requiredFailed = true
		if b.report.Error == "" && o.Err != nil {
			b.report.Error = o.Err.Error()
		}
	}
}

func (b *reportBuilder) fail(message string) {
	b.requiredFailed = true
	if b.report.Error == "" {
		b.report.Error = message
	}
}

func (b *reportBuilder) finish(elapsed time.Duration, outputs map[string]interface{}) *Report {
	b.report.TotalCost = float64(b.micros) / 1e6
	b.report.TotalElapsed = elapsed
	b.report.Outputs = outputs
	b.report.OverallSuccess = !b.requiredFailed
	return &b.report
}
