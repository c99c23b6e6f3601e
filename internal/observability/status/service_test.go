package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "recurplan/pkg/logx"
)

func TestHandlerAuthAndRoutes(t *testing.T) {
	t.Parallel()
	s := New(Config{}, func(context.Context) (any, error) {
		return map[string]int{"templates": 3}, nil
	}, logx.Nop())
	h := s.Handler(Config{Token: "sekret"})

	tests := []struct {
		name   string
		target string
		bearer string
		want   int
	}{
		{name: "no token", target: "/healthz", want: http.StatusUnauthorized},
		{name: "bad query token", target: "/healthz?token=nope", want: http.StatusUnauthorized},
		{name: "query token", target: "/healthz?token=sekret", want: http.StatusOK},
		{name: "bearer", target: "/status", bearer: "sekret", want: http.StatusOK},
		{name: "pprof off", target: "/debug/pprof/", bearer: "sekret", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("GET %s = %d, want %d", tt.target, rec.Code, tt.want)
			}
		})
	}
}

func TestStatusBody(t *testing.T) {
	t.Parallel()
	s := New(Config{}, func(context.Context) (any, error) {
		return map[string]int{"templates": 3}, nil
	}, logx.Nop())
	rec := httptest.NewRecorder()
	s.Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var got map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["templates"] != 3 {
		t.Fatalf("body = %v", got)
	}

	failing := New(Config{}, func(context.Context) (any, error) { return nil, errors.New("store closed") }, logx.Nop())
	rec = httptest.NewRecorder()
	failing.Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failing report = %d, want 500", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8089":          false,
		"0.0.0.0:8089":   false,
		"10.0.0.5:80":    false,
		"nonsense":       false,
	}
	for addr, want := range tests {
		if got := IsLoopbackAddr(addr); got != want {
			t.Fatalf("IsLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestReconfigureEnableDisable(t *testing.T) {
	t.Parallel()
	s := New(Config{}, func(context.Context) (any, error) { return "ok", nil }, logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true})

	select {
	case <-s.Ready():
	case <-ctx.Done():
		t.Fatal("status server never bound")
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no address after start")
	}
	resp, err := http.Get("http://" + addr + "/debug/pprof/cmdline")
	if err != nil {
		t.Fatalf("GET pprof: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof status = %d", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if got := s.Addr(); got != "" {
		t.Fatalf("still listening on %s after disable", got)
	}
}
