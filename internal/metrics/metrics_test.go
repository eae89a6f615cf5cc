package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(JobsTotal.WithLabelValues("completed"))
	JobsTotal.WithLabelValues("completed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(JobsTotal.WithLabelValues("completed")))

	GridCellsTotal.WithLabelValues("failed").Add(2)
	assert.GreaterOrEqual(t, testutil.ToFloat64(GridCellsTotal.WithLabelValues("failed")), 2.0)
}

func TestMetricsExposed(t *testing.T) {
	FramesProcessedTotal.Add(3)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "artcannon_frames_processed_total"))
}
