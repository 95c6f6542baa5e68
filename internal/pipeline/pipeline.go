// Package pipeline wires the five processing stages of the field camera:
// capture, motion detection, recording, live streaming and alerting.
//
// Stages run as independent goroutines connected by bounded channels. The
// channel capacities are the system's only throttle: a slow consumer blocks
// its producer instead of growing memory. All stages observe one Shutdown
// signal and the orchestrator joins every stage before Run returns.
package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fieldcam/internal/frame"
)

// ErrNoMoreFrames is the terminal condition returned by an Analyzer when
// the input source is exhausted and no further frames will be usable.
var ErrNoMoreFrames = errors.New("no more frames available")

// Source produces frames. Transient errors are expected (a dropped camera
// frame) and must not terminate the capability; callers retry.
type Source interface {
	Grab() (frame.Frame, error)
}

// Analyzer decides whether a frame contains motion. A returned error that
// wraps ErrNoMoreFrames means the input is exhausted; any other error is a
// single-frame failure and the frame is skipped.
type Analyzer interface {
	Analyze(frame.Frame) (bool, error)
}

// Appender writes motion-flagged frames to the output video container.
type Appender interface {
	Append(frame.Frame) error
}

// Messenger builds and sends outbound motion notifications. There is no
// delivery guarantee beyond "the call was attempted".
type Messenger interface {
	Payload(text string) (string, error)
	Send(payload string) error
}

// Streamer serves duplicated frames to a connected live viewer. It is the
// sole writer of the streaming-active flag.
type Streamer interface {
	Run(sd *Shutdown, active *atomic.Bool, frames <-chan frame.Frame) error
}

// Event is one motion detection occurrence, forwarded to the alerting stage.
type Event struct {
	ID uuid.UUID
	At time.Time
}

// Options tunes pipeline behavior. The zero value is not usable; use
// DefaultOptions as the starting point.
type Options struct {
	// ChannelCapacity bounds every inter-stage channel.
	ChannelCapacity int
	// AlertCooldown is the minimum interval between two sent notifications.
	AlertCooldown time.Duration
	// WarnInterval throttles repeated warnings from a single cause, such as
	// the alert channel staying full while its consumer is stalled.
	WarnInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		ChannelCapacity: 100,
		AlertCooldown:   5 * time.Second,
		WarnInterval:    10 * time.Second,
	}
}

// Pipeline owns the channel topology and the shared flags.
type Pipeline struct {
	opts Options
	log  *zap.Logger

	source    Source
	analyzer  Analyzer
	appender  Appender
	messenger Messenger
	streamer  Streamer

	shutdown *Shutdown
	// streamActive is written only by the streaming stage and read only by
	// the capture stage; true while a live client is connected.
	streamActive atomic.Bool

	wg sync.WaitGroup
}

// New assembles a pipeline from its five capabilities.
func New(opts Options, src Source, an Analyzer, ap Appender, ms Messenger, st Streamer, log *zap.Logger) *Pipeline {
	if opts.ChannelCapacity <= 0 {
		opts.ChannelCapacity = DefaultOptions().ChannelCapacity
	}
	if opts.AlertCooldown <= 0 {
		opts.AlertCooldown = DefaultOptions().AlertCooldown
	}
	if opts.WarnInterval <= 0 {
		opts.WarnInterval = DefaultOptions().WarnInterval
	}
	if log == nil {
		log = zap.L()
	}

	return &Pipeline{
		opts:      opts,
		log:       log.Named("pipeline"),
		source:    src,
		analyzer:  an,
		appender:  ap,
		messenger: ms,
		streamer:  st,
		shutdown:  NewShutdown(),
	}
}

// Shutdown exposes the cancellation signal, e.g. to wire a SIGINT handler.
func (p *Pipeline) Shutdown() *Shutdown {
	return p.shutdown
}

// StreamActive reports whether a live client is currently connected.
func (p *Pipeline) StreamActive() bool {
	return p.streamActive.Load()
}

// Run spawns the five stage loops and blocks until every one of them has
// terminated. Producers close their channels when their loop exits, which
// is how downstream stages learn there is no more input.
func (p *Pipeline) Run() error {
	capacity := p.opts.ChannelCapacity
	rawCh := make(chan frame.Frame, capacity)    // capture -> detection
	recCh := make(chan frame.Frame, capacity)    // detection -> recording
	eventCh := make(chan Event, capacity)        // detection -> alerting
	streamCh := make(chan frame.Frame, capacity) // capture -> streaming

	stop := p.shutdown.NotifyOnInterrupt()
	defer stop()

	p.log.Info("starting pipeline",
		zap.Int("channel_capacity", capacity),
		zap.Duration("alert_cooldown", p.opts.AlertCooldown))

	p.wg.Add(5)
	go func() {
		defer p.wg.Done()
		p.captureLoop(rawCh, streamCh)
	}()
	go func() {
		defer p.wg.Done()
		p.detectLoop(rawCh, recCh, eventCh)
	}()
	go func() {
		defer p.wg.Done()
		p.recordLoop(recCh)
	}()
	go func() {
		defer p.wg.Done()
		p.streamLoop(streamCh)
	}()
	go func() {
		defer p.wg.Done()
		p.alertLoop(eventCh)
	}()

	p.wg.Wait()
	p.log.Info("pipeline stopped")
	return nil
}
