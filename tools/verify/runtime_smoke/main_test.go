package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/gotodo/internal/bus"
	"github.com/basket/gotodo/internal/config"
	"github.com/basket/gotodo/internal/gateway"
	"github.com/basket/gotodo/internal/persistence"
	"github.com/basket/gotodo/internal/tasks"
)

func TestPayloadTaskID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int64
		ok   bool
	}{
		{name: "number", raw: `{"task_id":1005}`, want: 1005, ok: true},
		{name: "missing", raw: `{"time":"星期一"}`, ok: false},
		{name: "string unsupported", raw: `{"task_id":"1005"}`, ok: false},
		{name: "invalid", raw: "{", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := payloadTaskID(json.RawMessage(tt.raw))
			if (err == nil) != tt.ok {
				t.Fatalf("ok mismatch: err=%v want ok=%v", err, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("id mismatch: got=%d want=%d", got, tt.want)
			}
		})
	}
}

func TestWSURL(t *testing.T) {
	for in, want := range map[string]string{
		"http://127.0.0.1:5000": "ws://127.0.0.1:5000",
		"https://tasks.example": "wss://tasks.example",
		"127.0.0.1:5000":        "ws://127.0.0.1:5000",
	} {
		if got := wsURL(in); got != want {
			t.Fatalf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRun_AgainstGateway(t *testing.T) {
	eventBus := bus.New()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "tasks.db"), eventBus)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	srv := gateway.New(gateway.Config{
		Tasks: tasks.NewService(tasks.Config{Store: store}),
		Store: store,
		Bus:   eventBus,
		CORS:  config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	if err := run(ctx, ts.URL, &out); err != nil {
		t.Fatalf("smoke run failed: %v\n%s", err, out.String())
	}
	if got := strings.Count(out.String(), "CHECK "); got != 5 {
		t.Fatalf("expected 5 checks, got %d:\n%s", got, out.String())
	}
}
