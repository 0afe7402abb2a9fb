package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextIncludesCounters(t *testing.T) {
	SourceRecords.WithLabelValues("metrics-test").Add(3)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf))
	assert.Contains(t, buf.String(), `aegistrace_source_records_total{source="metrics-test"} 3`)
}

func TestProviderCallsLabels(t *testing.T) {
	before := testutil.ToFloat64(ProviderCalls.WithLabelValues("unit", "ok"))
	ProviderCalls.WithLabelValues("unit", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ProviderCalls.WithLabelValues("unit", "ok")))
}
