package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDisabledSerialMux_UnsubscribeClosesChannel(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	d.Unsubscribe(id)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Unsubscribe")
	}
}

func TestDisabledSerialMux_CloseClosesAllChannels(t *testing.T) {
	d := NewDisabledSerialMux()
	_, ch1 := d.Subscribe()
	_, ch2 := d.Subscribe()

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, ch := range []chan string{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Error("expected closed channel")
		}
	}

	// subscribing after Close yields an already closed channel
	_, late := d.Subscribe()
	if _, ok := <-late; ok {
		t.Error("late subscriber should receive a closed channel")
	}
}

func TestDisabledSerialMux_MonitorBlocksUntilCancel(t *testing.T) {
	d := NewDisabledSerialMux()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := d.Monitor(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Monitor returned %v", err)
	}
	if err := d.Initialize(); err != nil {
		t.Errorf("Initialize: %v", err)
	}
	if err := d.SendCommand("anything"); err != nil {
		t.Errorf("SendCommand: %v", err)
	}
}

func TestDisabledSerialMux_AdminRoute(t *testing.T) {
	d := NewDisabledSerialMux()
	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/gps-disabled", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.String() != "gps disabled" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
