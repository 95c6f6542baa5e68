package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fieldcam/internal/frame"
)

// captureLoop pulls frames from the source until shutdown. Each frame goes
// to the detection channel; while the streaming-active flag is set, an
// independent copy additionally goes to the streaming channel. The clone is
// taken before the detection send because ownership of the original moves
// downstream at that point.
func (p *Pipeline) captureLoop(raw chan<- frame.Frame, stream chan<- frame.Frame) {
	defer close(raw)
	defer close(stream)

	log := p.log.Named("capture")
	dropWarn := rate.NewLimiter(rate.Every(p.opts.WarnInterval), 1)

	for !p.shutdown.IsSet() {
		f, err := p.source.Grab()
		if err != nil {
			// Transient: a dropped frame must not stop the pipeline.
			log.Warn("frame grab failed", zap.Error(err))
			continue
		}

		wantDup := p.streamActive.Load()
		var dup frame.Frame
		if wantDup {
			dup = f.Clone()
		}

		select {
		case raw <- f:
		case <-p.shutdown.Done():
			f.Close()
			if wantDup {
				dup.Close()
			}
			log.Info("capture stopping")
			return
		}

		if wantDup {
			// Streaming is best-effort: never let a stalled viewer apply
			// backpressure to the detection path.
			select {
			case stream <- dup:
			default:
				dup.Close()
				if dropWarn.Allow() {
					log.Warn("stream channel full, dropping duplicate frame")
				}
			}
		}
	}
	log.Info("capture stopping")
}

// detectLoop consumes frames until the capture channel closes, the analyzer
// reports exhaustion, or shutdown is requested. Motion-flagged frames are
// forwarded to recording; a motion event goes to alerting. The recording
// send blocks (that blocking is the backpressure path), the event send does
// not: a stalled alert consumer only costs a rate-limited warning.
func (p *Pipeline) detectLoop(raw <-chan frame.Frame, rec chan<- frame.Frame, events chan<- Event) {
	defer close(rec)
	defer close(events)

	log := p.log.Named("detect")
	eventWarn := rate.NewLimiter(rate.Every(p.opts.WarnInterval), 1)

	for f := range raw {
		if p.shutdown.IsSet() {
			f.Close()
			log.Info("detection stopping")
			return
		}

		motion, err := p.analyzer.Analyze(f)
		if err != nil {
			if errors.Is(err, ErrNoMoreFrames) {
				f.Close()
				log.Info("input exhausted, detection stopping")
				return
			}
			log.Warn("frame analysis failed", zap.Error(err))
			f.Close()
			continue
		}
		if !motion {
			f.Close()
			continue
		}

		ev := Event{ID: uuid.New(), At: f.Time}

		select {
		case rec <- f:
		case <-p.shutdown.Done():
			f.Close()
			log.Info("detection stopping")
			return
		}

		select {
		case events <- ev:
		default:
			if eventWarn.Allow() {
				log.Warn("alert channel full, dropping motion event",
					zap.String("event_id", ev.ID.String()))
			}
		}
	}
	log.Info("detection stopping")
}

// recordLoop appends motion-flagged frames to the output file. It is purely
// reactive: it terminates when the detection stage closes its channel, and a
// single failed write never aborts the recording.
func (p *Pipeline) recordLoop(rec <-chan frame.Frame) {
	log := p.log.Named("record")

	var written, failed int64
	for f := range rec {
		if err := p.appender.Append(f); err != nil {
			failed++
			log.Warn("frame write failed", zap.Error(err))
		} else {
			written++
		}
		f.Close()
	}
	log.Info("recording stopping",
		zap.Int64("frames_written", written),
		zap.Int64("frames_failed", failed))
}

// streamLoop delegates to the streaming stage, which owns the listener and
// the streaming-active flag. A streamer failure ends only that stage.
func (p *Pipeline) streamLoop(frames <-chan frame.Frame) {
	log := p.log.Named("stream")
	if err := p.streamer.Run(p.shutdown, &p.streamActive, frames); err != nil {
		log.Error("streamer terminated", zap.Error(err))
	}
	p.streamActive.Store(false)

	// Release any duplicates still queued after the streamer exited.
	for f := range frames {
		f.Close()
	}
}

// alertLoop applies the cooldown window and sends at most one notification
// per window. The limiter token is consumed before the send is attempted, so
// a failing webhook does not turn every queued event into a retry burst.
func (p *Pipeline) alertLoop(events <-chan Event) {
	log := p.log.Named("alert")
	cooldown := rate.NewLimiter(rate.Every(p.opts.AlertCooldown), 1)

	for ev := range events {
		if p.shutdown.IsSet() {
			log.Info("alerting stopping")
			return
		}
		if !cooldown.Allow() {
			continue
		}

		text := fmt.Sprintf("%s motion detected", ev.At.Format("2006-01-02_15-04-05"))
		log.Info("motion alert", zap.String("event_id", ev.ID.String()), zap.Time("at", ev.At))

		payload, err := p.messenger.Payload(text)
		if err != nil {
			log.Warn("building alert payload failed", zap.Error(err))
			continue
		}
		if err := p.messenger.Send(payload); err != nil {
			log.Warn("sending alert failed", zap.Error(err))
		}
	}
	log.Info("alerting stopping")
}
