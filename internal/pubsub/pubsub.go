// Package pubsub publishes pipeline lifecycle events — fixes, flight
// opens/closes, geofence exits — to a NATS subject tree so other services
// (dashboards, alerting) can react without polling the database.
// Publishing is best-effort: a broker outage must
// never block the pipeline that is the source of truth.
package pubsub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hut8/soar/internal/model"
	"github.com/hut8/soar/internal/monitoring"
)

const (
	SubjectFix          = "soar.fix"
	SubjectFlightOpened = "soar.flight.opened"
	SubjectFlightClosed = "soar.flight.closed"
	SubjectGeofenceExit = "soar.geofence.exit"
)

// Publisher wraps a NATS connection with the handful of event types this
// pipeline emits. A nil Publisher (or one constructed with Disabled) is
// valid and simply drops every publish, so call sites don't need a
// separate "is pubsub configured" check.
type Publisher struct {
	conn *nats.Conn
}

// Connect dials the given NATS URL. A failed initial connection is
// returned as an error; once connected, a bounded reconnect window (10
// attempts, 2 s apart) keeps a momentary broker restart from taking down
// the pipeline's publisher.
func Connect(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				monitoring.Logf("pubsub: disconnected: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect %s: %w", url, err)
	}
	return &Publisher{conn: conn}, nil
}

// Disabled returns a Publisher that drops every event, for deployments
// that don't run a broker.
func Disabled() *Publisher {
	return &Publisher{}
}

// Close closes the underlying connection without draining it.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

// PublishFix announces a newly emitted fix.
func (p *Publisher) PublishFix(fix model.Fix) {
	p.publish(SubjectFix, fix)
}

// PublishFlightOpened announces a newly opened flight.
func (p *Publisher) PublishFlightOpened(flight model.Flight) {
	p.publish(SubjectFlightOpened, flight)
}

// PublishFlightClosed announces a closed flight.
func (p *Publisher) PublishFlightClosed(flight model.Flight) {
	p.publish(SubjectFlightClosed, flight)
}

// PublishGeofenceExit announces a geofence exit event.
func (p *Publisher) PublishGeofenceExit(ev model.GeofenceExitEvent) {
	p.publish(SubjectGeofenceExit, ev)
}

func (p *Publisher) publish(subject string, v any) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		monitoring.Logf("pubsub: marshal %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		monitoring.Logf("pubsub: publish %s: %v", subject, err)
	}
}
