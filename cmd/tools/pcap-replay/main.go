//go:build pcap

// Command pcap-replay replays a recorded .pcap capture of a Beast, SBS,
// or OGN/APRS stream against a local TCP listener, at (optionally scaled)
// original timing, so the ingest Reader can be pointed at it in
// integration tests or local development without a live upstream feed.
//
// Requires libpcap and the pcap build tag: go run -tags pcap ./cmd/tools/pcap-replay
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/hut8/soar/internal/monitoring"
)

func main() {
	file := flag.String("file", "", "path to the .pcap capture to replay")
	listen := flag.String("listen", "127.0.0.1:5005", "address to accept one reader connection on")
	port := flag.Int("port", 30005, "source TCP or UDP port the capture recorded the stream on")
	speed := flag.Float64("speed", 1.0, "replay speed multiplier (1.0 = original timing)")
	flag.Parse()

	if *file == "" {
		log.Fatal("pcap-replay: -file is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *file, *listen, *port, *speed); err != nil {
		log.Fatalf("pcap-replay: %v", err)
	}
}

func run(ctx context.Context, file, listen string, port int, speed float64) error {
	if speed <= 0 {
		speed = 1.0
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listen, err)
	}
	defer ln.Close()
	monitoring.Logf("pcap-replay: waiting for a reader to connect on %s", listen)

	conn, err := acceptOne(ctx, ln)
	if err != nil {
		return err
	}
	defer conn.Close()
	monitoring.Logf("pcap-replay: reader connected from %s, replaying %s at %.1fx", conn.RemoteAddr(), file, speed)

	return replay(ctx, conn, file, port, speed)
}

func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

func replay(ctx context.Context, conn net.Conn, file string, port int, speed float64) error {
	handle, err := pcap.OpenOffline(file)
	if err != nil {
		return fmt.Errorf("open capture %s: %w", file, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	var lastCaptureTime time.Time
	packetCount := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet, ok := <-src.Packets():
			if !ok || packet == nil {
				monitoring.Logf("pcap-replay: replay complete, %d packets sent", packetCount)
				return nil
			}

			captureTime := packet.Metadata().Timestamp
			if !lastCaptureTime.IsZero() {
				delay := time.Duration(float64(captureTime.Sub(lastCaptureTime)) / speed)
				if delay > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(delay):
					}
				}
			}
			lastCaptureTime = captureTime

			payload := applicationPayload(packet)
			if len(payload) == 0 {
				continue
			}
			if _, err := conn.Write(payload); err != nil {
				return fmt.Errorf("write to reader: %w", err)
			}
			packetCount++
		}
	}
}

// applicationPayload pulls the TCP or UDP payload out of packet, whichever
// transport the capture used.
func applicationPayload(packet gopacket.Packet) []byte {
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		if tcp, ok := tcpLayer.(*layers.TCP); ok {
			return tcp.Payload
		}
	}
	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		if udp, ok := udpLayer.(*layers.UDP); ok {
			return udp.Payload
		}
	}
	return nil
}
