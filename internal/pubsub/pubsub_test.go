package pubsub

import (
	"testing"
	"time"

	"github.com/hut8/soar/internal/model"
)

func TestDisabledPublisherDropsEvents(t *testing.T) {
	p := Disabled()

	// None of these should panic; Disabled() has no underlying connection.
	p.PublishFix(model.Fix{ICAOHex: "AB1234", ReceivedAt: time.Now()})
	p.PublishFlightOpened(model.Flight{ID: "f1"})
	p.PublishFlightClosed(model.Flight{ID: "f1"})
	p.PublishGeofenceExit(model.GeofenceExitEvent{ID: "e1"})
	p.Close()
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher

	p.PublishFix(model.Fix{ICAOHex: "AB1234"})
	p.Close()
}

func TestConnectRejectsUnreachableBroker(t *testing.T) {
	// Port 1 refuses the connection immediately, so this fails fast rather
	// than exercising the background reconnect loop.
	_, err := Connect("nats://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error connecting to an unreachable broker")
	}
}
