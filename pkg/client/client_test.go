package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/katsctl/internal/config"
	"github.com/loykin/katsctl/internal/preflight"
	"github.com/loykin/katsctl/internal/process"
	"github.com/loykin/katsctl/internal/server"
	"github.com/loykin/katsctl/internal/status"
	itls "github.com/loykin/katsctl/internal/tls"
)

type source struct{ failing bool }

func (s source) Status(context.Context) status.Snapshot {
	return status.Snapshot{
		Timestamp: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
		TradeMode: "LIVE",
		Main:      status.MainStatus{State: process.Dead, PID: 77},
		Database:  status.DatabaseStatus{Present: true, Size: 4096},
	}
}

func (s source) Health(context.Context) preflight.Report {
	rep := preflight.Report{Results: []preflight.Result{{Label: "kats process", Outcome: preflight.Pass}}}
	if s.failing {
		rep.Results = append(rep.Results, preflight.Result{Label: "disk", Outcome: preflight.Fail, Detail: "low"})
	}
	return rep
}

func newTestClient(t *testing.T, src server.Source) *Client {
	t.Helper()
	ts := httptest.NewServer(server.NewRouter(src, "/api", nil).Handler())
	t.Cleanup(ts.Close)
	c, err := New(Config{BaseURL: ts.URL + "/api/", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestStatusMatchesServerDocument(t *testing.T) {
	src := source{}
	c := newTestClient(t, src)
	doc, err := c.Status(context.Background())
	require.NoError(t, err)

	want := src.Status(context.Background()).Document()
	assert.Equal(t, want.Timestamp, doc.Timestamp)
	assert.Equal(t, "LIVE", doc.TradeMode)
	assert.Equal(t, "DEAD", doc.Kats.Status)
	assert.Equal(t, "77", doc.Kats.PID)
	assert.Equal(t, want.Redis.Status, doc.Redis.Status)
	assert.Equal(t, want.Database.Size, doc.Database.Size)
}

func TestHealthFailingIsNotAnError(t *testing.T) {
	c := newTestClient(t, source{failing: true})
	rep, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.OK)
	require.Len(t, rep.Checks, 2)
	assert.Equal(t, "fail", rep.Checks[1].Outcome)
}

func TestIsReachable(t *testing.T) {
	c := newTestClient(t, source{})
	assert.True(t, c.IsReachable(context.Background()))

	down, err := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: time.Second})
	require.NoError(t, err)
	assert.False(t, down.IsReachable(context.Background()))
}

func TestErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer ts.Close()
	c, err := New(Config{BaseURL: ts.URL})
	require.NoError(t, err)
	_, err = c.Status(context.Background())
	require.EqualError(t, err, "API error: boom")
}

func TestNewRejectsMissingCA(t *testing.T) {
	_, err := New(Config{BaseURL: "https://localhost:8780/api", TLS: &TLSClientConfig{CACert: "/nonexistent/ca.pem"}})
	require.Error(t, err)
}

func TestStatusOverTLS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	tc, err := itls.Setup(config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true, Hosts: []string{"localhost", "127.0.0.1"}})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := server.NewServer(addr, "/api", source{}, nil)
	srv.TLSConfig = tc
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, srv) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c, err := New(Config{BaseURL: "https://" + addr + "/api", Timeout: 5 * time.Second, TLS: &TLSClientConfig{CACert: filepath.Join(dir, itls.CACertName)}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.IsReachable(context.Background()) }, 5*time.Second, 20*time.Millisecond)

	doc, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LIVE", doc.TradeMode)

	plain, err := New(Config{BaseURL: "https://" + addr + "/api", Timeout: 5 * time.Second})
	require.NoError(t, err)
	_, err = plain.Status(context.Background())
	require.Error(t, err, "an unknown CA must be rejected")
}
