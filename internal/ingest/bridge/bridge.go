package bridge

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hut8/soar/internal/ingest/queue"
	"github.com/hut8/soar/internal/ingest/reader"
	"github.com/hut8/soar/internal/monitoring"
)

// QueueSource is the subset of *queue.Queue the Sender drains.
type QueueSource interface {
	Recv() (queue.Record, bool, error)
	Commit() error
}

// Sender connects to the processor's Unix socket and drains a queue into
// it, one envelope per queue record. A record is committed only after the
// socket write succeeds, so a crash mid-send replays the record on restart
// (at-least-once).
type Sender struct {
	SocketPath string
	Source     SourceTag
	RetryDelay time.Duration

	conn net.Conn
}

// NewSender constructs a Sender. retryDelay defaults to 1s if zero.
func NewSender(socketPath string, source SourceTag, retryDelay time.Duration) *Sender {
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Sender{SocketPath: socketPath, Source: source, RetryDelay: retryDelay}
}

// Run drains q until ctx is cancelled. On send failure it does not commit
// the record and retries the same record after reconnecting, so nothing is
// lost — only possibly redelivered.
func (s *Sender) Run(ctx context.Context, q QueueSource) {
	for {
		if ctx.Err() != nil {
			s.closeConn()
			return
		}

		rec, ok, err := q.Recv()
		if err != nil {
			monitoring.Logf("bridge: queue recv: %v", err)
			s.sleep(ctx)
			continue
		}
		if !ok {
			s.sleep(ctx)
			continue
		}

		micros, payload, err := reader.DecodeTimestamped(rec.Data)
		if err != nil {
			// A record that predates the read-time stamp, or was corrupted
			// in the queue, still needs to be shipped rather than dropped;
			// fall back to the relay time.
			monitoring.Logf("bridge: %v, stamping at relay time instead", err)
			micros = time.Now().UnixMicro()
			payload = rec.Data
		}

		env := Envelope{SourceTag: s.Source, TimestampMicros: micros, Payload: payload}
		if err := s.sendWithRetry(ctx, env); err != nil {
			// ctx was cancelled while retrying; the record stays uncommitted
			// and will be redelivered on the next run.
			return
		}

		if err := q.Commit(); err != nil {
			monitoring.Logf("bridge: commit offset %d: %v", rec.Offset, err)
		}
	}
}

// sendWithRetry keeps trying to deliver env (reconnecting as needed) until
// it succeeds or ctx is cancelled.
func (s *Sender) sendWithRetry(ctx context.Context, env Envelope) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.send(env); err != nil {
			monitoring.Logf("bridge: send failed: %v, retrying in %s", err, s.RetryDelay)
			s.closeConn()
			s.sleep(ctx)
			continue
		}
		return nil
	}
}

func (s *Sender) send(env Envelope) error {
	if s.conn == nil {
		conn, err := net.Dial("unix", s.SocketPath)
		if err != nil {
			return fmt.Errorf("dial %s: %w", s.SocketPath, err)
		}
		s.conn = conn
	}
	return writeFrame(s.conn, Encode(env))
}

func (s *Sender) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.RetryDelay):
	}
}

func (s *Sender) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Handler processes one decoded Envelope received by a Listener.
type Handler func(ctx context.Context, env Envelope)

// Listener accepts the ingest process's connection on a Unix domain socket
// and dispatches each decoded Envelope to a Handler. Socket setup follows
// the remove-stale-socket/listen/chmod pattern used for other local-only
// control sockets in the pack.
type Listener struct {
	SocketPath string
	Handler    Handler
}

// NewListener constructs a Listener.
func NewListener(socketPath string, handler Handler) *Listener {
	return &Listener{SocketPath: socketPath, Handler: handler}
}

// Run removes any stale socket file, listens, and accepts connections until
// ctx is cancelled. Each accepted connection is served in its own goroutine;
// a connection that errors out is simply closed and the listener keeps
// accepting (the sender side will reconnect).
func (l *Listener) Run(ctx context.Context) error {
	_ = os.Remove(l.SocketPath)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", l.SocketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.SocketPath, err)
	}
	if err := os.Chmod(l.SocketPath, 0o600); err != nil {
		monitoring.Logf("bridge: chmod %s: %v", l.SocketPath, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go l.serve(ctx, conn)
	}
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := readFrame(r)
		if err != nil {
			return
		}
		env, err := Decode(raw)
		if err != nil {
			monitoring.Logf("bridge: decode envelope: %v", err)
			continue
		}
		l.Handler(ctx, env)
	}
}
