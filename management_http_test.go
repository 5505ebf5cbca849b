package apm

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/apm/pkg/stats"
)

// TestManagementHTTP_BasicEndpoints spins up the management HTTP server on
// an ephemeral port and validates the core endpoints.
func TestManagementHTTP_BasicEndpoints(t *testing.T) {
	ctx := context.Background()

	m, err := New(WithClock(&fakeClock{}), WithTimerPeriod(time.Hour), WithQueueShards(1))
	assert.Nil(t, err)
	assert.Nil(t, m.Start())

	defer m.Stop()

	srv := NewManagementHTTPServer("127.0.0.1:0")
	assert.Nil(t, srv.Start(ctx, m))

	defer func() { _ = srv.Shutdown(ctx) }()

	// wait briefly for listener
	time.Sleep(30 * time.Millisecond)

	addr := srv.Address()
	assert.True(t, addr != "")

	client := &http.Client{Timeout: 2 * time.Second}

	// /healthz
	resp, err := client.Get("http://" + addr + "/healthz")
	assert.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// track a server through the API
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/api/v1/servers/backend-1", nil)
	resp, err = client.Do(req)
	assert.Nil(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	// the tracked server shows up in the listing
	resp, err = client.Get("http://" + addr + "/api/v1/servers")
	assert.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Servers []string `json:"servers"`
	}

	assert.Nil(t, json.NewDecoder(resp.Body).Decode(&listing))
	_ = resp.Body.Close()
	assert.Equal(t, []string{"backend-1"}, listing.Servers)

	// stats of a tracked server decode into a snapshot
	resp, err = client.Get("http://" + addr + "/api/v1/servers/backend-1/stats")
	assert.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap stats.Snapshot

	assert.Nil(t, json.NewDecoder(resp.Body).Decode(&snap))
	_ = resp.Body.Close()
	assert.Equal(t, "backend-1", snap.Server)
	assert.Equal(t, len(m.Percentiles()), len(snap.Percentiles))

	// stats of an unknown server is a 404
	resp, err = client.Get("http://" + addr + "/api/v1/servers/nobody/stats")
	assert.Nil(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	// forget the server
	req, _ = http.NewRequestWithContext(ctx, http.MethodDelete, "http://"+addr+"/api/v1/servers/backend-1", nil)
	resp, err = client.Do(req)
	assert.Nil(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()
}
