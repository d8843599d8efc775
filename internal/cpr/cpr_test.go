package cpr

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeGlobalPositionKnownVector(t *testing.T) {
	// Classic even/odd pair from the Mode-S decoding literature: a position
	// near Schiphol. With the odd frame received last, the odd-parity
	// solution applies, decoding to approximately (52.2658, 3.9389).
	base := time.Unix(1600000000, 0)
	d := NewDecoder()

	_, err := d.Decode(0xABCDEF, Frame{
		LatCPR:    93000.0 / 131072,
		LonCPR:    51372.0 / 131072,
		Odd:       false,
		Timestamp: base,
	})
	require.NoError(t, err)

	pos, err := d.Decode(0xABCDEF, Frame{
		LatCPR:    74158.0 / 131072,
		LonCPR:    50194.0 / 131072,
		Odd:       true,
		Timestamp: base.Add(1 * time.Second),
	})
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.InDelta(t, 52.2658, pos.Latitude, 0.01)
	require.InDelta(t, 3.9389, pos.Longitude, 0.01)
}

func TestDecodeReturnsNilUntilBothParitiesSeen(t *testing.T) {
	d := NewDecoder()
	pos, err := d.Decode(0x112233, Frame{LatCPR: 0.5, LonCPR: 0.5, Odd: false, Timestamp: time.Now()})
	require.NoError(t, err)
	require.Nil(t, pos)
}

func TestDecodeRejectsStalePairBeyondWindow(t *testing.T) {
	d := NewDecoder()
	base := time.Unix(1600000000, 0)

	_, err := d.Decode(0xAA5500, Frame{
		LatCPR: 93000.0 / 131072, LonCPR: 51372.0 / 131072, Odd: false, Timestamp: base,
	})
	require.NoError(t, err)

	pos, err := d.Decode(0xAA5500, Frame{
		LatCPR: 74158.0 / 131072, LonCPR: 50194.0 / 131072, Odd: true,
		Timestamp: base.Add(11 * time.Second),
	})
	require.NoError(t, err)
	require.Nil(t, pos, "pair older than the pairing window must not decode")
}

func TestDecodeRejectsImplausibleJump(t *testing.T) {
	d := NewDecoder()
	base := time.Unix(1600000000, 0)

	// First fix near Schiphol.
	_, err := d.Decode(0x990011, Frame{LatCPR: 93000.0 / 131072, LonCPR: 51372.0 / 131072, Odd: false, Timestamp: base})
	require.NoError(t, err)
	pos, err := d.Decode(0x990011, Frame{LatCPR: 74158.0 / 131072, LonCPR: 50194.0 / 131072, Odd: true, Timestamp: base.Add(1 * time.Second)})
	require.NoError(t, err)
	require.NotNil(t, pos)

	// A second pair one second later decoding to roughly the opposite side
	// of the globe implies an impossible ground speed and must be dropped.
	t2 := base.Add(2 * time.Second)
	_, err = d.Decode(0x990011, Frame{LatCPR: 0.1, LonCPR: 0.9, Odd: false, Timestamp: t2})
	require.NoError(t, err)
	pos2, err := d.Decode(0x990011, Frame{LatCPR: 0.9, LonCPR: 0.1, Odd: true, Timestamp: t2.Add(1 * time.Second)})
	require.NoError(t, err)
	require.Nil(t, pos2)
}

func TestExpireDropsStaleAircraft(t *testing.T) {
	d := NewDecoder()
	base := time.Unix(1600000000, 0)
	_, err := d.Decode(0x445566, Frame{LatCPR: 0.5, LonCPR: 0.5, Odd: false, Timestamp: base})
	require.NoError(t, err)

	d.Expire(base.Add(20 * time.Second))

	require.Equal(t, 0, len(d.states))
}

func TestHaversineNMZeroForSamePoint(t *testing.T) {
	require.True(t, math.Abs(haversineNM(52.0, 4.0, 52.0, 4.0)) < 1e-9)
}
