package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Khongirad/INOMAD-sub003/internal/alerts"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func alertEvent(level alerts.Level, wallet string) *Event {
	return &Event{
		Type:      "alert",
		Timestamp: time.Now(),
		Alert:     &alerts.Alert{Level: level, Wallet: wallet},
	}
}

// ---------------------------------------------------------------------------
// wants tests
// ---------------------------------------------------------------------------

func TestWants_EmptySubscription(t *testing.T) {
	client := &Client{}

	if !client.wants(alertEvent(alerts.LevelLow, "0xwallet")) {
		t.Error("Empty subscription should receive all alerts")
	}
}

func TestWants_LevelFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		Levels: []alerts.Level{alerts.LevelHigh, alerts.LevelCritical},
	}}

	if !client.wants(alertEvent(alerts.LevelHigh, "0xwallet")) {
		t.Error("Should receive HIGH alerts")
	}
	if !client.wants(alertEvent(alerts.LevelCritical, "0xwallet")) {
		t.Error("Should receive CRITICAL alerts")
	}
	if client.wants(alertEvent(alerts.LevelLow, "0xwallet")) {
		t.Error("Should NOT receive LOW alerts")
	}
}

func TestWants_WalletFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		Wallets: []string{"0xWatched"},
	}}

	if !client.wants(alertEvent(alerts.LevelHigh, "0xwatched")) {
		t.Error("Wallet filter should match case-insensitively")
	}
	if client.wants(alertEvent(alerts.LevelHigh, "0xother")) {
		t.Error("Should NOT receive alerts for unwatched wallets")
	}
}

func TestWants_CombinedFilters(t *testing.T) {
	client := &Client{sub: Subscription{
		Levels:  []alerts.Level{alerts.LevelHigh},
		Wallets: []string{"0xwatched"},
	}}

	if !client.wants(alertEvent(alerts.LevelHigh, "0xwatched")) {
		t.Error("Should receive matching level and wallet")
	}
	if client.wants(alertEvent(alerts.LevelLow, "0xwatched")) {
		t.Error("Level mismatch should filter")
	}
	if client.wants(alertEvent(alerts.LevelHigh, "0xother")) {
		t.Error("Wallet mismatch should filter")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_PublishAlertAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.PublishAlert(&alerts.Alert{Level: alerts.LevelHigh, Wallet: "0xwallet"})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.PublishAlert(&alerts.Alert{Level: alerts.LevelMedium, Wallet: "0xwallet"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants CRITICAL alerts
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{Levels: []alerts.Level{alerts.LevelCritical}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// A LOW alert should be filtered out
	h.PublishAlert(&alerts.Alert{Level: alerts.LevelLow, Wallet: "0xwallet"})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive LOW alert")
	default:
		// Good - filtered out
	}

	// A CRITICAL alert should come through
	h.PublishAlert(&alerts.Alert{Level: alerts.LevelCritical, Wallet: "0xwallet"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive CRITICAL alert")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}
