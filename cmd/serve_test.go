// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/pkg/events"
)

func TestShutdownLetsInFlightRequestsFinish(t *testing.T) {
	logger := logging.NewNoopLogger()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	bus := events.NewBus(4, 0, monitoring.NewNoopMonitor("test", logger), logger)
	busDone := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(busDone)
	}()

	started := make(chan struct{})
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release

		if err := r.Context().Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "done")
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := newHTTPServer(ln.Addr().String(), mux)
	go func() { _ = srv.Serve(ln) }()

	type result struct {
		status int
		body   string
		err    error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/slow")
		if err != nil {
			results <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		results <- result{status: resp.StatusCode, body: string(b), err: err}
	}()

	<-started

	// same order as serve: the service context goes first, then the server
	stop()
	<-busDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shutdown := make(chan error, 1)
	go func() { shutdown <- srv.Shutdown(shutdownCtx) }()

	close(release)

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "done", res.body)
	assert.NoError(t, <-shutdown)
}
