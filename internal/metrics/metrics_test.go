package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ContributionRecorded("paid")
	r.ContributionRecorded("paid")
	r.ContributionRecorded("late")
	r.RoundClosed("skipped")
	r.EventPublished("RoundClosed", nil)
	r.EventPublished("RoundClosed", errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.contributions.WithLabelValues("paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.contributions.WithLabelValues("late")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.events.WithLabelValues("RoundClosed", "error")))

	expected := `
# HELP tontine_rounds_closed_total Rounds closed, by outcome (scheduled, assigned, skipped).
# TYPE tontine_rounds_closed_total counter
tontine_rounds_closed_total{outcome="skipped"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tontine_rounds_closed_total"))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ContributionRecorded("paid")
		r.RoundFunded()
		r.RoundClosed("scheduled")
		r.ClosureFailed("RoundNotFunded")
		r.EventPublished("RoundFunded", nil)
		r.InviteAccepted()
		r.LedgerInconsistent()
	})
}
