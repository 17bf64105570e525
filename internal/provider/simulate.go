package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/contentpipe/contentpipe/internal/chain"
)

// Simulator fabricates deterministic results for every catalog pair
// without touching any external service. It backs dry runs and tests.
type Simulator struct {
	catalog *chain.Catalog
	latency time.Duration
}

// NewSimulator creates a simulator pricing steps from the catalog.
// A non-zero latency adds a fixed, cancellable delay per step.
func NewSimulator(catalog *chain.Catalog, latency time.Duration) *Simulator {
	return &Simulator{catalog: catalog, latency: latency}
}

// RegisterAll binds a simulated operation for every (type, model) pair
// the catalog knows.
func (s *Simulator) RegisterAll(reg *Registry) {
	for t, models := range s.catalog.Models() {
		for _, model := range models {
			reg.Register(t, model, s.operation())
		}
	}
}

func (s *Simulator) operation() Operation {
	return OperationFunc(func(ctx context.Context, req Request) (*Result, error) {
		if s.latency > 0 {
			timer := time.NewTimer(s.latency)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		return &Result{
			Output: simulatedOutput(req),
			Cost:   s.catalog.CostOf(req.Type, req.Model, req.Params),
			Metadata: map[string]interface{}{
				"simulated": true,
				"model":     req.Model,
			},
		}, nil
	})
}

// simulatedOutput builds a stable stand-in value per step: pseudo URIs
// for media outputs, text for text outputs.
func simulatedOutput(req Request) interface{} {
	switch req.Type {
	case chain.StepTypeTextToImage, chain.StepTypeImageToImage:
		return fmt.Sprintf("sim://%s/%s.png", req.Model, req.StepName)
	case chain.StepTypeImageToVideo, chain.StepTypeAddAudio, chain.StepTypeUpscaleVideo:
		return fmt.Sprintf("sim://%s/%s.mp4", req.Model, req.StepName)
	case chain.StepTypeImageUnderstanding:
		return fmt.Sprintf("simulated description of %v", req.Input)
	case chain.StepTypePromptGeneration:
		return fmt.Sprintf("simulated prompt for %v", req.Input)
	default:
		return fmt.Sprintf("sim://%s/%s", req.Model, req.StepName)
	}
}
