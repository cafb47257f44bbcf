package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServe_ExposesMetrics(t *testing.T) {
	PicksRefined.WithLabelValues("ok").Inc()

	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, nil) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(b)
		return true
	}, 2*time.Second, 20*time.Millisecond)

	assert.True(t, strings.Contains(body, "onset_picks_refined_total"), "metrics body lists refinement counter")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_BadAddress(t *testing.T) {
	err := Serve(context.Background(), "not-an-address", nil)
	assert.Error(t, err)
}

func TestPicksRefined_Labels(t *testing.T) {
	before := testutil.ToFloat64(PicksRefined.WithLabelValues("skipped"))
	PicksRefined.WithLabelValues("skipped").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PicksRefined.WithLabelValues("skipped")))
}
