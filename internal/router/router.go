// Package router classifies incoming APRS/OGN packets and fans them out to
// per-kind worker pools, following the receiver-resolution and
// insert-minimal-if-missing rules of the system this replaces.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hut8/soar/internal/model"
)

// PacketKind classifies a raw packet for downstream routing.
type PacketKind int

const (
	KindUnknown PacketKind = iota
	KindAircraftPosition
	KindReceiverStatus
	KindReceiverPosition
	KindServerMessage
)

// RawPacket is one line of text received from an OGN/APRS upstream, already
// timestamped by the reader that produced it.
type RawPacket struct {
	Text       string
	ReceivedAt time.Time
}

// PacketContext carries the identifiers a classified packet needs for
// downstream persistence.
type PacketContext struct {
	AprsMessageID string
	ReceiverID    string
}

// ClassifiedPacket is a RawPacket together with its routing decision and
// persistence context.
type ClassifiedPacket struct {
	Raw     RawPacket
	Context PacketContext
	Kind    PacketKind
}

// ReceiverStore resolves a receiver callsign to a durable receiver id,
// inserting a minimal row if one does not already exist. Implemented by
// the store package; declared here to avoid an import cycle.
type ReceiverStore interface {
	EnsureReceiver(ctx context.Context, callsign string) (receiverID string, err error)
}

// MessageStore persists the raw APRS line, returning its row id.
type MessageStore interface {
	InsertAprsMessage(ctx context.Context, receiverID, rawText, residue string) (aprsMessageID string, err error)
}

// Config tunes worker-pool sizes and channel capacities. Zero values fall
// back to the defaults observed for this workload.
type Config struct {
	AircraftWorkers        int
	AircraftCapacity       int
	ReceiverStatusWorkers  int
	ReceiverStatusCapacity int
	ReceiverPosWorkers     int
	ReceiverPosCapacity    int
	ServerWorkers          int
	ServerCapacity         int
}

func (c Config) withDefaults() Config {
	if c.AircraftWorkers == 0 {
		c.AircraftWorkers = 80
	}
	if c.AircraftCapacity == 0 {
		c.AircraftCapacity = 1000
	}
	if c.ReceiverStatusWorkers == 0 {
		c.ReceiverStatusWorkers = 6
	}
	if c.ReceiverStatusCapacity == 0 {
		c.ReceiverStatusCapacity = 200
	}
	if c.ReceiverPosWorkers == 0 {
		c.ReceiverPosWorkers = 4
	}
	if c.ReceiverPosCapacity == 0 {
		c.ReceiverPosCapacity = 200
	}
	if c.ServerWorkers == 0 {
		c.ServerWorkers = 2
	}
	if c.ServerCapacity == 0 {
		c.ServerCapacity = 50
	}
	return c
}

// Router consumes RawPackets and dispatches classified, persisted results
// onto per-kind bounded channels. A pool of workers performs receiver
// resolution, message insertion, and classification in parallel; sends to
// the output channels block, which is the system's backpressure mechanism.
type Router struct {
	cfg       Config
	receivers ReceiverStore
	messages  MessageStore

	AircraftPosition chan ClassifiedPacket
	ReceiverStatus   chan ClassifiedPacket
	ReceiverPosition chan ClassifiedPacket
	ServerStatus     chan ClassifiedPacket

	droppedMu sync.Mutex
	dropped   uint64
}

// New constructs a Router with its output channels allocated per cfg.
func New(cfg Config, receivers ReceiverStore, messages MessageStore) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		cfg:              cfg,
		receivers:        receivers,
		messages:         messages,
		AircraftPosition: make(chan ClassifiedPacket, cfg.AircraftCapacity),
		ReceiverStatus:   make(chan ClassifiedPacket, cfg.ReceiverStatusCapacity),
		ReceiverPosition: make(chan ClassifiedPacket, cfg.ReceiverPosCapacity),
		ServerStatus:     make(chan ClassifiedPacket, cfg.ServerCapacity),
	}
}

// Run starts the worker pool, each worker pulling from in until it closes
// or ctx is done. Run blocks until all workers exit.
func (r *Router) Run(ctx context.Context, in <-chan RawPacket) {
	var wg sync.WaitGroup
	wg.Add(r.cfg.AircraftWorkers)
	for i := 0; i < r.cfg.AircraftWorkers; i++ {
		go func() {
			defer wg.Done()
			r.worker(ctx, in)
		}()
	}
	wg.Wait()
}

func (r *Router) worker(ctx context.Context, in <-chan RawPacket) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			r.route(ctx, pkt)
		}
	}
}

func (r *Router) route(ctx context.Context, pkt RawPacket) {
	if strings.HasPrefix(pkt.Text, "#") {
		r.dispatch(ctx, pkt, PacketContext{}, KindServerMessage, r.ServerStatus)
		return
	}

	parsed, ok := ParseAPRSLine(pkt.Text)
	if !ok {
		r.incDropped()
		return
	}

	receiverCallsign := ResolveReceiverCallsign(parsed.From, parsed.Via)

	receiverID, err := r.receivers.EnsureReceiver(ctx, receiverCallsign)
	if err != nil {
		r.incDropped()
		return
	}

	aprsMessageID, err := r.messages.InsertAprsMessage(ctx, receiverID, pkt.Text, parsed.Residue)
	if err != nil {
		r.incDropped()
		return
	}

	pctx := PacketContext{AprsMessageID: aprsMessageID, ReceiverID: receiverID}
	kind, out := r.classify(parsed, receiverCallsign)
	r.dispatch(ctx, pkt, pctx, kind, out)
}

func (r *Router) classify(p ParsedAPRS, receiverCallsign string) (PacketKind, chan ClassifiedPacket) {
	switch {
	case strings.HasPrefix(p.Body, ">"):
		return KindReceiverStatus, r.ReceiverStatus
	case isPositionReport(p.Body):
		if p.From == receiverCallsign && !strings.Contains(p.Body, "id") {
			return KindReceiverPosition, r.ReceiverPosition
		}
		return KindAircraftPosition, r.AircraftPosition
	default:
		return KindUnknown, nil
	}
}

func (r *Router) dispatch(ctx context.Context, pkt RawPacket, pctx PacketContext, kind PacketKind, out chan ClassifiedPacket) {
	if out == nil {
		r.incDropped()
		return
	}
	cp := ClassifiedPacket{Raw: pkt, Context: pctx, Kind: kind}
	select {
	case out <- cp:
	case <-ctx.Done():
	}
}

func (r *Router) incDropped() {
	r.droppedMu.Lock()
	r.dropped++
	r.droppedMu.Unlock()
}

// Dropped returns the number of packets dropped due to parse/store failure
// or an unclassifiable body.
func (r *Router) Dropped() uint64 {
	r.droppedMu.Lock()
	defer r.droppedMu.Unlock()
	return r.dropped
}

func isPositionReport(body string) bool {
	if body == "" {
		return false
	}
	switch body[0] {
	case '!', '/', '@', '=':
		return true
	default:
		return false
	}
}

// ParsedAPRS is the header/body split of one APRS TNC2-format line:
// "FROM>TO,VIA1,VIA2:BODY".
type ParsedAPRS struct {
	From    string
	To      string
	Via     []string
	Body    string
	Residue string
}

// ParseAPRSLine splits a TNC2-format APRS line into its addressing header
// and payload body.
func ParseAPRSLine(line string) (ParsedAPRS, bool) {
	colon := strings.Index(line, ":")
	if colon < 0 {
		return ParsedAPRS{}, false
	}
	header := line[:colon]
	body := line[colon+1:]

	gt := strings.Index(header, ">")
	if gt < 0 {
		return ParsedAPRS{}, false
	}
	from := header[:gt]
	rest := header[gt+1:]

	parts := strings.Split(rest, ",")
	to := parts[0]
	var via []string
	if len(parts) > 1 {
		via = parts[1:]
	}

	return ParsedAPRS{From: from, To: to, Via: via, Body: body}, true
}

// ResolveReceiverCallsign implements the receiver-identity rule: if the via
// path contains a TCPIP* hop (meaning an APRS-IS server injected the
// packet on the sender's behalf), the sender ("from") callsign IS the
// receiver; otherwise the receiver is whichever station last relayed the
// packet (the final via hop).
func ResolveReceiverCallsign(from string, via []string) string {
	for _, hop := range via {
		if strings.HasPrefix(hop, "TCPIP") {
			return from
		}
	}
	if len(via) > 0 {
		return strings.TrimSuffix(via[len(via)-1], "*")
	}
	return from
}

// Source is exported for callers that need to tag a RawPacket's origin
// before it enters the router.
type Source = model.Source
