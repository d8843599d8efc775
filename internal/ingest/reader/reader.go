// Package reader runs one task per configured upstream endpoint: it
// connects, frames incoming bytes per the source's wire protocol, stamps
// each record with a receive timestamp, and pushes it to a persistent
// queue. Reconnection follows the bounded-backoff idiom used elsewhere in
// this codebase for flaky external endpoints.
package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hut8/soar/internal/monitoring"
)

// Framer extracts complete wire records from a connection's byte stream.
// Implementations are source-specific: OGN/APRS framing is newline
// delimited, SBS is CRLF-delimited CSV, Beast framing is 0x1A-delimited
// binary. ReadFrame returns io.EOF-wrapping errors on graceful disconnect.
type Framer interface {
	ReadFrame(r *bufio.Reader) ([]byte, error)
}

// Sink receives one framed, timestamped record per call.
type Sink interface {
	Push(data []byte) error
}

// Config describes one upstream endpoint.
type Config struct {
	Name       string
	Address    string // host:port
	LoginLine  string // sent immediately after connect, if non-empty (APRS login/filter)
	RetryDelay time.Duration
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Reader owns the connect/frame/push/reconnect loop for one upstream.
type Reader struct {
	cfg    Config
	framer Framer
	sink   Sink
	dialer net.Dialer

	invalidFrames atomic.Uint64
}

// New constructs a Reader.
func New(cfg Config, framer Framer, sink Sink) *Reader {
	return &Reader{cfg: cfg.withDefaults(), framer: framer, sink: sink}
}

// InvalidFrames returns the number of malformed frames dropped so far
// without a connection reset.
func (r *Reader) InvalidFrames() uint64 {
	return r.invalidFrames.Load()
}

// Run connects and reads until ctx is done, reconnecting with bounded
// exponential backoff on disconnect or fatal decode error.
func (r *Reader) Run(ctx context.Context) {
	backoff := r.cfg.RetryDelay
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.runOnce(ctx); err != nil {
			monitoring.Logf("reader[%s]: %v, reconnecting in %s", r.cfg.Name, err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}
}

func (r *Reader) runOnce(ctx context.Context) error {
	conn, err := r.dialer.DialContext(ctx, "tcp", r.cfg.Address)
	if err != nil {
		return fmt.Errorf("connect %s: %w", r.cfg.Address, err)
	}
	defer conn.Close()

	if r.cfg.LoginLine != "" {
		if _, err := conn.Write([]byte(r.cfg.LoginLine)); err != nil {
			return fmt.Errorf("send login line: %w", err)
		}
	}

	// runOnce returns nil only on ctx cancellation and reports read-loop
	// failures upward. Run does not reset its backoff after a successful
	// connect, so the delay keeps doubling across reconnects up to MaxBackoff.
	br := bufio.NewReader(conn)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		frame, err := r.framer.ReadFrame(br)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			var frameErr *FrameError
			if errors.As(err, &frameErr) {
				r.invalidFrames.Add(1)
				monitoring.Logf("reader[%s]: %v (dropped, count=%d)", r.cfg.Name, frameErr, r.invalidFrames.Load())
				continue
			}
			return fmt.Errorf("read frame: %w", err)
		}

		if err := r.sink.Push(EncodeTimestamped(nowMicros(), frame)); err != nil {
			return fmt.Errorf("push to queue: %w", err)
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// OGNFramer implements Framer for newline-terminated OGN/APRS text. Lines
// beginning with '#' are server messages and are forwarded unmodified
// alongside position packets; the router distinguishes them downstream.
type OGNFramer struct{}

func (OGNFramer) ReadFrame(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if line != "" {
			return []byte(strings.TrimRight(line, "\r\n")), nil
		}
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// SBSFramer implements Framer for CRLF-terminated BaseStation CSV lines.
type SBSFramer struct{}

func (SBSFramer) ReadFrame(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if line != "" {
			return []byte(strings.TrimRight(line, "\r\n")), nil
		}
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
