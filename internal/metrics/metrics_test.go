package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOutcome(t *testing.T) {
	before := testutil.ToFloat64(RecordsTotal.WithLabelValues(OutcomeStale))

	RecordOutcome(OutcomeStale)
	RecordOutcome(OutcomeStale)

	assert.Equal(t, before+2, testutil.ToFloat64(RecordsTotal.WithLabelValues(OutcomeStale)))
}

func TestRecordSinkEmit(t *testing.T) {
	okBefore := testutil.ToFloat64(SinkEmitsTotal.WithLabelValues("metrics-test", "ok"))
	errBefore := testutil.ToFloat64(SinkEmitsTotal.WithLabelValues("metrics-test", "error"))

	RecordSinkEmit("metrics-test", nil)
	RecordSinkEmit("metrics-test", errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(SinkEmitsTotal.WithLabelValues("metrics-test", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(SinkEmitsTotal.WithLabelValues("metrics-test", "error")))
}
