package daemonrun

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"narrasync/internal/logging"
	"narrasync/internal/notifications"
	"narrasync/internal/script"
	"narrasync/internal/testsupport"
	"narrasync/internal/timeline"
)

func TestNotifyOutcomesReportsFailureAndSync(t *testing.T) {
	var (
		mu     sync.Mutex
		titles []string
	)
	received := make(chan struct{}, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		titles = append(titles, r.Header.Get("Title"))
		mu.Unlock()
		received <- struct{}{}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	store := testsupport.MustOpenStore(t, cfg)
	gen := testsupport.NewFakeGenerator()
	gen.FailOn("Bad take.", errors.New("provider unavailable"))

	ctx := context.Background()
	manager := timeline.NewManager(ctx, cfg, store, gen, logging.NewNop())
	defer manager.Close()
	manager.OnRegenerated(notifyOutcomes(ctx, notifications.NewService(cfg), logging.NewNop()))

	breakdown := &script.Breakdown{Segments: []script.Entry{{Text: "Bad take."}}}
	engine, err := manager.Create(ctx, "Notify", breakdown)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Regenerate(ctx); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	waitForNotification(t, received)

	gen.FailOn("Bad take.", nil)
	if _, err := engine.Regenerate(ctx); err != nil {
		t.Fatalf("regenerate again: %v", err)
	}
	waitForNotification(t, received)

	mu.Lock()
	defer mu.Unlock()
	if len(titles) != 2 {
		t.Fatalf("expected 2 notifications, got %v", titles)
	}
	if !strings.Contains(titles[0], "Voice Failed") || !strings.Contains(titles[1], "Synced") {
		t.Fatalf("unexpected notification order %v", titles)
	}
}

func waitForNotification(t *testing.T, received <-chan struct{}) {
	t.Helper()
	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}
