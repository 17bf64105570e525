package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/pipeline"
)

func TestRecordStepCountsByStatus(t *testing.T) {
	m := NewMetrics(prometheus.NewPedanticRegistry())

	m.RecordStep("video", chain.StepTypeTextToImage, "flux_dev", pipeline.Outcome{
		Success: true,
		Cost:    0.03,
		Elapsed: 2 * time.Second,
	})
	m.RecordStep("video", chain.StepTypeTextToImage, "flux_dev", pipeline.Outcome{
		Success: false,
		Err:     &pipeline.StepError{Kind: pipeline.ErrKindTimeout, Step: "image"},
		Elapsed: 30 * time.Second,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("text_to_image", "flux_dev", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("text_to_image", "flux_dev", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepErrors.WithLabelValues("text_to_image", "flux_dev", "timeout")))
	assert.InDelta(t, 0.03, testutil.ToFloat64(m.stepCost.WithLabelValues("text_to_image", "flux_dev")), 1e-9)
}

func TestRecordRunCountsAndCost(t *testing.T) {
	m := NewMetrics(prometheus.NewPedanticRegistry())

	m.RecordRun("video", &pipeline.Report{OverallSuccess: true, TotalCost: 0.86, TotalElapsed: time.Minute})
	m.RecordRun("video", &pipeline.Report{OverallSuccess: false, TotalElapsed: time.Second})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("video", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("video", "failed")))
	assert.InDelta(t, 0.86, testutil.ToFloat64(m.runCost.WithLabelValues("video")), 1e-9)
}

func TestGauges(t *testing.T) {
	m := NewMetrics(prometheus.NewPedanticRegistry())

	m.RunStarted()
	m.RunStarted()
	m.RunFinished()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRuns))

	m.SetQueueDepth(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth))
}
