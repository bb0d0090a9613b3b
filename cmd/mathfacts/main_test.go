package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mtt87/math-facts/internal/config"
)

func TestOpenStoreWithSkipsConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	broken := "[mirror]\nendpoint = \"http://localhost\"\ntimeout = \"bogus\"\n"
	if err := os.WriteFile(path, []byte(broken), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	ctx := context.Background()
	if _, _, err := openStore(ctx, true); err == nil {
		t.Fatal("expected the on-disk timeout to be rejected")
	}

	// A caller that already holds a config must not trigger a re-read.
	st, cleanup, err := openStoreWith(ctx, config.FileConfig{}, true)
	if err != nil {
		t.Fatalf("openStoreWith failed: %v", err)
	}
	defer cleanup()
	if !st.IsLoaded() {
		t.Fatal("store must be loaded")
	}
}

func TestCleanupDeliversPendingMirrorPush(t *testing.T) {
	received := make(chan struct{}, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := server.URL
	timeout := "2s"
	cfg := config.FileConfig{Mirror: config.MirrorConfig{Endpoint: &endpoint, Timeout: &timeout}}

	ctx := context.Background()
	st, cleanup, err := openStoreWith(ctx, cfg, true)
	if err != nil {
		t.Fatalf("openStoreWith failed: %v", err)
	}
	if err := st.AddPoints(ctx, 5); err != nil {
		t.Fatalf("add points failed: %v", err)
	}
	cleanup()

	select {
	case <-received:
	default:
		t.Fatal("cleanup returned before the mirror push was delivered")
	}
}
