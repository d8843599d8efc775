// Package bridge ships queue records across a Unix domain socket from the
// ingest process to the processor process. The
// wire protocol is a 4-byte big-endian length prefix followed by that many
// bytes of an Envelope, matching the length-prefixed framing the queue
// already uses for its own segment files.
package bridge

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SourceTag identifies which upstream protocol produced an Envelope's
// payload, so the processor side can pick the right parser without
// inspecting the bytes.
type SourceTag uint8

const (
	SourceUnknown SourceTag = iota
	SourceOGN
	SourceBeast
	SourceSBS
)

const envelopeVersion = 1

// Envelope is one record crossing the ingest/processor boundary: a
// versioned tagged record carrying the source protocol, a microsecond
// receive timestamp, and the raw framed payload produced by the stream
// reader.
type Envelope struct {
	SourceTag       SourceTag
	TimestampMicros int64
	Payload         []byte
}

// Encode serializes e as: version(1) | source_tag(1) | timestamp_micros(8) | payload.
func Encode(e Envelope) []byte {
	buf := make([]byte, 1+1+8+len(e.Payload))
	buf[0] = envelopeVersion
	buf[1] = byte(e.SourceTag)
	binary.BigEndian.PutUint64(buf[2:10], uint64(e.TimestampMicros))
	copy(buf[10:], e.Payload)
	return buf
}

// Decode parses the output of Encode.
func Decode(raw []byte) (Envelope, error) {
	if len(raw) < 10 {
		return Envelope{}, fmt.Errorf("bridge: envelope too short (%d bytes)", len(raw))
	}
	if raw[0] != envelopeVersion {
		return Envelope{}, fmt.Errorf("bridge: unsupported envelope version %d", raw[0])
	}
	payload := make([]byte, len(raw)-10)
	copy(payload, raw[10:])
	return Envelope{
		SourceTag:       SourceTag(raw[1]),
		TimestampMicros: int64(binary.BigEndian.Uint64(raw[2:10])),
		Payload:         payload,
	}, nil
}

// writeFrame writes a 4-byte big-endian length prefix followed by data.
func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}
