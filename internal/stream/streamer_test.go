package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"fieldcam/internal/frame"
	"fieldcam/internal/pipeline"
)

// stubEncoder returns a payload whose length is derived from the frame
// sequence number, so Content-Length values are distinguishable per frame.
type stubEncoder struct{}

func (stubEncoder) Encode(f frame.Frame) ([]byte, error) {
	return bytes.Repeat([]byte{'j'}, int(f.Seq)*10+5), nil
}

func testFrame(seq int64) frame.Frame {
	return frame.Frame{Mat: gocv.NewMat(), Time: time.Now(), Seq: seq}
}

func startServer(t *testing.T) (*Server, *pipeline.Shutdown, *atomic.Bool, chan frame.Frame, chan error) {
	t.Helper()

	srv, err := NewServer(Config{
		ListenAddr:   "127.0.0.1:0",
		PollInterval: 20 * time.Millisecond,
	}, stubEncoder{}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	sd := pipeline.NewShutdown()
	active := &atomic.Bool{}
	frames := make(chan frame.Frame, 16)
	runErr := make(chan error, 1)
	go func() {
		runErr <- srv.Run(sd, active, frames)
		close(runErr)
	}()

	t.Cleanup(func() {
		sd.Set()
		select {
		case <-runErr:
		case <-time.After(2 * time.Second):
			t.Error("streamer did not stop within 2s of shutdown")
		}
	})

	return srv, sd, active, frames, runErr
}

func waitFlag(t *testing.T, active *atomic.Bool, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if active.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("streaming-active flag never became %v", want)
}

// readPart consumes one multipart section and returns the payload length
// announced by its Content-Length header.
func readPart(t *testing.T, r *bufio.Reader) int {
	t.Helper()

	boundary, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading boundary: %v", err)
	}
	if strings.TrimSpace(boundary) != "--frame" {
		t.Fatalf("unexpected boundary line %q", boundary)
	}

	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading part header: %v", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			contentLength, err = strconv.Atoi(v)
			if err != nil {
				t.Fatalf("bad Content-Length %q: %v", v, err)
			}
		} else if line != "Content-Type: image/jpeg" {
			t.Fatalf("unexpected part header %q", line)
		}
	}
	if contentLength < 0 {
		t.Fatal("part missing Content-Length")
	}

	payload := make([]byte, contentLength+2) // payload + trailing CRLF
	if _, err := io.ReadFull(r, payload); err != nil {
		t.Fatalf("reading part payload: %v", err)
	}
	if !bytes.HasSuffix(payload, []byte("\r\n")) {
		t.Fatal("part payload not terminated by CRLF")
	}
	return contentLength
}

func TestStreamProtocol(t *testing.T) {
	srv, _, active, frames, _ := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	waitFlag(t, active, true)

	for i := int64(1); i <= 3; i++ {
		frames <- testFrame(i)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)

	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if strings.TrimSpace(status) != "HTTP/1.1 200 OK" {
		t.Fatalf("unexpected status line %q", status)
	}
	contentType, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading content type: %v", err)
	}
	if strings.TrimSpace(contentType) != "Content-Type: multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("unexpected content type %q", contentType)
	}
	blank, err := r.ReadString('\n')
	if err != nil || strings.TrimSpace(blank) != "" {
		t.Fatalf("expected blank line after header, got %q (err %v)", blank, err)
	}

	for i := 1; i <= 3; i++ {
		want := i*10 + 5
		if got := readPart(t, r); got != want {
			t.Fatalf("part %d Content-Length = %d, want %d", i, got, want)
		}
	}
}

func TestClientDisconnectClearsActiveFlag(t *testing.T) {
	srv, _, active, frames, _ := startServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	waitFlag(t, active, true)
	conn.Close()

	// Keep feeding frames: the dead connection must be noticed on a write
	// failure and the flag dropped before more duplicates are produced.
	deadline := time.Now().Add(2 * time.Second)
	seq := int64(1)
	for time.Now().Before(deadline) && active.Load() {
		select {
		case frames <- testFrame(seq):
			seq++
		default:
		}
		time.Sleep(10 * time.Millisecond)
	}
	if active.Load() {
		t.Fatal("streaming-active flag still set after client disconnect")
	}
}

func TestSingleClientAtATime(t *testing.T) {
	srv, _, active, frames, _ := startServer(t)

	first, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("failed to connect first client: %v", err)
	}
	defer first.Close()
	waitFlag(t, active, true)

	// A second client connects at the TCP level (kernel backlog) but must
	// receive no stream header while the first client is being served.
	second, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("failed to connect second client: %v", err)
	}
	defer second.Close()

	frames <- testFrame(1)

	second.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatal("second client received data while first client was active")
	}
}

func TestIdleShutdownIsPrompt(t *testing.T) {
	_, sd, _, _, runErr := startServer(t)

	time.Sleep(50 * time.Millisecond) // let the idle poll loop settle
	start := time.Now()
	sd.Set()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("idle streamer did not notice shutdown within 1s")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("idle streamer took %v to stop, want within a few poll intervals", elapsed)
	}
}
