package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeReceiverStore struct{ calls []string }

func (f *fakeReceiverStore) EnsureReceiver(ctx context.Context, callsign string) (string, error) {
	f.calls = append(f.calls, callsign)
	return "receiver-" + callsign, nil
}

type fakeMessageStore struct{ inserted int }

func (f *fakeMessageStore) InsertAprsMessage(ctx context.Context, receiverID, rawText, residue string) (string, error) {
	f.inserted++
	return "msg-1", nil
}

func TestResolveReceiverCallsignUsesFromWhenTCPIPInVia(t *testing.T) {
	got := ResolveReceiverCallsign("AIRCRAFT1", []string{"TCPIP*", "qAC"})
	require.Equal(t, "AIRCRAFT1", got)
}

func TestResolveReceiverCallsignUsesLastViaHopOtherwise(t *testing.T) {
	got := ResolveReceiverCallsign("AIRCRAFT1", []string{"RELAY1", "RELAY2*"})
	require.Equal(t, "RELAY2", got)
}

func TestParseAPRSLineSplitsHeaderAndBody(t *testing.T) {
	p, ok := ParseAPRSLine("FLRDD'EAD>APRS,qAS,ReceiverA:/074548h5111.32N/00102.04Wg000t000")
	require.True(t, ok)
	require.Equal(t, "FLRDD'EAD", p.From)
	require.Equal(t, "APRS", p.To)
	require.Equal(t, []string{"qAS", "ReceiverA"}, p.Via)
	require.True(t, isPositionReport(p.Body))
}

func TestRouteClassifiesServerMessage(t *testing.T) {
	rs := &fakeReceiverStore{}
	ms := &fakeMessageStore{}
	r := New(Config{}, rs, ms)

	ctx := context.Background()
	r.route(ctx, RawPacket{Text: "# aprsc 2.1.5-g test server", ReceivedAt: time.Now()})

	select {
	case cp := <-r.ServerStatus:
		require.Equal(t, KindServerMessage, cp.Kind)
	default:
		t.Fatal("expected a server-status packet")
	}
	require.Equal(t, 0, ms.inserted, "server messages are not stored as APRS messages")
}

func TestRouteClassifiesAircraftPosition(t *testing.T) {
	rs := &fakeReceiverStore{}
	ms := &fakeMessageStore{}
	r := New(Config{}, rs, ms)

	ctx := context.Background()
	line := "FLRDD1234>APRS,qAS,ReceiverA:/074548h5111.32N/00102.04Wg000t000id0ADD1234"
	r.route(ctx, RawPacket{Text: line, ReceivedAt: time.Now()})

	select {
	case cp := <-r.AircraftPosition:
		require.Equal(t, KindAircraftPosition, cp.Kind)
		require.Equal(t, "receiver-ReceiverA", cp.Context.ReceiverID)
	default:
		t.Fatal("expected an aircraft-position packet")
	}
	require.Equal(t, 1, ms.inserted)
}

func TestRouteDropsUnparseableLine(t *testing.T) {
	rs := &fakeReceiverStore{}
	ms := &fakeMessageStore{}
	r := New(Config{}, rs, ms)

	r.route(context.Background(), RawPacket{Text: "not a valid aprs line", ReceivedAt: time.Now()})
	require.Equal(t, uint64(1), r.Dropped())
}
