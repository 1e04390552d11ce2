package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/server/router"
	"github.com/heartline/keyset/pkg/server/router/nethttp"
)

// startServer runs srv on a free port and returns its base URL and the
// channel Start reports on.
func startServer(t *testing.T, ctx context.Context, srv interface {
	Start(context.Context) error
	Ready() <-chan struct{}
	Addr() string
}) (string, <-chan error) {
	t.Helper()
	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-errChan:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	return "http://" + srv.Addr(), errChan
}

func waitStopped(t *testing.T, errChan <-chan error) {
	t.Helper()
	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("server shutdown failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server shutdown timed out")
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	r := nethttp.NewRouter()
	r.GET("/ping", func(c router.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	srv := NewServer(Config{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  10 * time.Second,
	}, r, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, errChan := startServer(t, ctx, srv)

	resp, err := http.Get(base + "/ping")
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	waitStopped(t, errChan)
}

func TestServerDefaults(t *testing.T) {
	srv := NewServer(Config{Port: 8082, ReadTimeout: time.Second}, nethttp.NewRouter(), logger.Nop())

	if srv.config.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, DefaultShutdownTimeout)
	}
	if srv.config.ReadTimeout != time.Second {
		t.Errorf("read timeout = %v", srv.config.ReadTimeout)
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q", srv.Addr())
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() before Start = %v", err)
	}
}

func TestServerShutdownWaitsForInFlightRequests(t *testing.T) {
	release := make(chan struct{})
	r := nethttp.NewRouter()
	r.GET("/slow", func(c router.Context) error {
		<-release
		return c.String(http.StatusOK, "done")
	})

	srv := NewServer(Config{ShutdownTimeout: 5 * time.Second}, r, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, errChan := startServer(t, ctx, srv)

	type result struct {
		body string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Get(base + "/slow")
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		got <- result{body: string(body), err: err}
	}()

	// Let the request reach the handler before shutting down.
	time.Sleep(100 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)

	res := <-got
	if res.err != nil || res.body != "done" {
		t.Fatalf("in-flight request = %q, %v", res.body, res.err)
	}
	waitStopped(t, errChan)
}

func TestServerShutdownTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := nethttp.NewRouter()
	r.GET("/stuck", func(c router.Context) error {
		<-block
		return nil
	})

	srv := NewServer(Config{ShutdownTimeout: 100 * time.Millisecond}, r, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base, errChan := startServer(t, ctx, srv)

	go func() {
		if resp, err := http.Get(base + "/stuck"); err == nil {
			resp.Body.Close()
		}
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err == nil || !strings.Contains(err.Error(), "server shutdown failed") {
			t.Fatalf("expected a shutdown timeout, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not honour its timeout")
	}
}

func TestServerStartError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(Config{Port: port}, nethttp.NewRouter(), logger.Nop())
	err = srv.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "server failed to start") {
		t.Fatalf("expected a bind error, got %v", err)
	}
}
