package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreLabelled(t *testing.T) {
	before := testutil.ToFloat64(TrapsTotal.WithLabelValues("ColdStart", "v1"))
	TrapsTotal.WithLabelValues("ColdStart", "v1").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TrapsTotal.WithLabelValues("ColdStart", "v1")))

	before = testutil.ToFloat64(TrapsSuppressedTotal.WithLabelValues("community"))
	TrapsSuppressedTotal.WithLabelValues("community").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TrapsSuppressedTotal.WithLabelValues("community")))
}

func TestServerExposesMetrics(t *testing.T) {
	DatagramsReceivedTotal.Inc()

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "trapd_datagrams_received_total"))
}

func TestServerStartReportsBindError(t *testing.T) {
	first := NewServer("127.0.0.1:0", "/metrics")
	require.NoError(t, first.Start(context.Background()))
	t.Cleanup(func() { _ = first.Stop(context.Background()) })

	second := NewServer(first.Addr(), "/metrics")
	assert.Error(t, second.Start(context.Background()))
}

func TestStopWithoutStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", "/metrics").Stop(context.Background()))
}
