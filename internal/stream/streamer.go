// Package stream serves live frames to a single HTTP client as a
// multipart motion-JPEG stream.
package stream

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldcam/internal/frame"
	"fieldcam/internal/pipeline"
)

const (
	// responseHeader announces the multipart stream once per connection.
	responseHeader = "HTTP/1.1 200 OK\r\n" +
		"Content-Type: multipart/x-mixed-replace; boundary=frame\r\n\r\n"
	// partHeader precedes every encoded frame.
	partHeader = "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n"

	defaultPollInterval = 100 * time.Millisecond
)

// Encoder turns a frame into compressed still-image bytes. Stateless.
type Encoder interface {
	Encode(frame.Frame) ([]byte, error)
}

// Config describes the streaming listener.
type Config struct {
	// ListenAddr is the TCP address to serve on, e.g. "0.0.0.0:8740".
	ListenAddr string
	// PollInterval bounds the idle accept wait so the stage stays
	// responsive to cancellation with no client connected.
	PollInterval time.Duration
}

// Server is a single-concurrent-client MJPEG streamer. While one client is
// connected no further connections are accepted; a second client waits for
// the first to disconnect. The server is the sole writer of the
// streaming-active flag.
type Server struct {
	ln   *net.TCPListener
	enc  Encoder
	poll time.Duration
	log  *zap.Logger
}

// NewServer binds the listener immediately so address errors surface at
// startup rather than mid-run.
func NewServer(cfg Config, enc Encoder, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.L()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %q: %w", cfg.ListenAddr, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("unexpected listener type %T", ln)
	}

	return &Server{
		ln:   tcpLn,
		enc:  enc,
		poll: cfg.PollInterval,
		log:  log.Named("streamer"),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Run is the streaming stage loop. Idle: poll for a connection with a
// bounded accept deadline, forcing the active flag false each iteration.
// Streaming: encode and write every frame until the client goes away, the
// frame supply closes, or shutdown is requested.
func (s *Server) Run(sd *pipeline.Shutdown, active *atomic.Bool, frames <-chan frame.Frame) error {
	defer s.ln.Close()
	defer active.Store(false)

	for !sd.IsSet() {
		active.Store(false)
		drain(frames)

		s.ln.SetDeadline(time.Now().Add(s.poll))
		conn, err := s.ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.serveClient(sd, active, conn, frames)
	}
	return nil
}

// serveClient owns one connection from accept to close.
func (s *Server) serveClient(sd *pipeline.Shutdown, active *atomic.Bool, conn net.Conn, frames <-chan frame.Frame) {
	log := s.log.With(
		zap.String("client_id", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()))
	log.Info("stream client connected")

	defer conn.Close()
	defer active.Store(false)
	active.Store(true)

	bw := bufio.NewWriter(conn)
	if _, err := bw.WriteString(responseHeader); err != nil {
		log.Warn("writing stream header failed", zap.Error(err))
		return
	}
	if err := bw.Flush(); err != nil {
		log.Warn("writing stream header failed", zap.Error(err))
		return
	}

	var sent int64
	for {
		select {
		case <-sd.Done():
			log.Info("stream client closing on shutdown", zap.Int64("frames_sent", sent))
			return
		case f, ok := <-frames:
			if !ok {
				log.Info("frame supply closed", zap.Int64("frames_sent", sent))
				return
			}

			payload, err := s.enc.Encode(f)
			f.Close()
			if err != nil {
				log.Warn("frame encode failed", zap.Error(err))
				continue
			}

			if err := writePart(bw, payload); err != nil {
				// Dead connection: stop writing to it immediately.
				active.Store(false)
				log.Info("stream client disconnected",
					zap.Int64("frames_sent", sent), zap.Error(err))
				return
			}
			sent++
		}
	}
}

// writePart emits one multipart section and flushes it to the socket.
func writePart(bw *bufio.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(bw, partHeader, len(payload)); err != nil {
		return err
	}
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// drain discards duplicates queued while no client was consuming them.
func drain(frames <-chan frame.Frame) {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			f.Close()
		default:
			return
		}
	}
}
