package reader

import (
	"encoding/binary"
	"fmt"
	"time"
)

// EncodeTimestamped prepends an 8-byte big-endian microsecond timestamp to
// payload, so the receive time recorded downstream reflects when the
// reader actually read the frame off the wire rather than whenever it
// happens to be relayed across the socket bridge later.
func EncodeTimestamped(timestampMicros int64, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(timestampMicros))
	copy(buf[8:], payload)
	return buf
}

// DecodeTimestamped splits the output of EncodeTimestamped back into its
// timestamp and payload.
func DecodeTimestamped(data []byte) (int64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("reader: timestamped record too short (%d bytes)", len(data))
	}
	micros := int64(binary.BigEndian.Uint64(data[0:8]))
	payload := make([]byte, len(data)-8)
	copy(payload, data[8:])
	return micros, payload, nil
}

// nowMicros is the timestamp captured at the moment a frame is read.
func nowMicros() int64 {
	return time.Now().UnixMicro()
}
