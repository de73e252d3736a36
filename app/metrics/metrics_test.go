package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.ObserveClaim("TAGS")
	c.ObserveClaim("TAGS")
	c.ObserveIdle()
	c.ObserveOutcome("TAGS", "success", 150*time.Millisecond)
	c.ObserveFreeze("DOWNLOAD")
	c.ObserveExternalClaim("NER", "claimed")
	c.ObserveExternalSubmit("NER", "stale")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.claims.WithLabelValues("TAGS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.idleClaims))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.outcomes.WithLabelValues("TAGS", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.freezes.WithLabelValues("DOWNLOAD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.externalClaims.WithLabelValues("NER", "claimed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.externalSubmits.WithLabelValues("NER", "stale")))
}

func TestCollectorsAreIndependent(t *testing.T) {
	first := NewCollector()
	second := NewCollector()

	first.ObserveIdle()

	assert.Equal(t, 1.0, testutil.ToFloat64(first.idleClaims))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.idleClaims))
}

func TestHandlerServesTextFormat(t *testing.T) {
	c := NewCollector()
	c.ObserveClaim("CLUSTERING")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `rsstag_task_claims_total{type="CLUSTERING"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
