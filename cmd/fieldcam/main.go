// Command fieldcam runs the motion-detecting field camera: capture,
// detection, recording, live MJPEG streaming and Slack alerting.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"fieldcam/internal/alert"
	"fieldcam/internal/camlog"
	"fieldcam/internal/capture"
	"fieldcam/internal/config"
	"fieldcam/internal/motion"
	"fieldcam/internal/pipeline"
	"fieldcam/internal/record"
	"fieldcam/internal/stream"
)

// Application bundles the pipeline capabilities for ordered cleanup.
type Application struct {
	cfg      config.Config
	log      *zap.Logger
	grabber  *capture.Grabber
	detector *motion.Detector
	writer   *record.Writer
	streamer *stream.Server
	pipe     *pipeline.Pipeline
}

func main() {
	configPath := flag.String("config", "fieldcam.toml", "path to the TOML configuration file")
	index := flag.Int("index", -1, "camera device index (overrides config)")
	video := flag.String("video", "", "use a video file as input instead of a camera")
	addr := flag.String("addr", "", "MJPEG stream listen address (overrides config)")
	dir := flag.String("directory", "", "output directory for recordings (overrides config)")
	quiet := flag.Bool("quiet", false, "suppress console output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error [config]: %v\n", err)
		fmt.Fprintln(os.Stderr, "warning: using default configuration")
		cfg = config.Default()
	}
	if *index >= 0 {
		cfg.Capture.Index = *index
	}
	if *video != "" {
		cfg.Capture.Video = *video
	}
	if *addr != "" {
		cfg.Stream.ListenAddr = *addr
	}
	if *dir != "" {
		cfg.Record.Directory = *dir
	}
	if *quiet {
		cfg.Log.Quiet = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error [config]: %v\n", err)
		os.Exit(1)
	}

	log := camlog.New(camlog.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		Quiet: cfg.Log.Quiet,
	})
	defer log.Sync()

	app, err := NewApplication(cfg, log)
	if err != nil {
		log.Error("failed to start", zap.Error(err))
		os.Exit(1)
	}
	defer app.Cleanup()

	app.printBanner()

	if err := app.pipe.Run(); err != nil {
		log.Error("pipeline failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("done")
}

// NewApplication constructs every capability and wires the pipeline.
func NewApplication(cfg config.Config, log *zap.Logger) (*Application, error) {
	var (
		grabber *capture.Grabber
		err     error
	)
	if cfg.Capture.Video != "" {
		grabber, err = capture.OpenFile(cfg.Capture.Video, log)
	} else {
		grabber, err = capture.Open(capture.DeviceConfig{
			Index:     cfg.Capture.Index,
			Width:     cfg.Capture.Width,
			Height:    cfg.Capture.Height,
			Framerate: cfg.Capture.Framerate,
		}, log)
	}
	if err != nil {
		return nil, err
	}

	width, height := grabber.FrameSize()
	framerate := grabber.Framerate()
	if framerate <= 0 {
		framerate = cfg.Capture.Framerate
	}

	detector := motion.NewDetector(motion.Config{
		BlurSize:     cfg.Motion.BlurSize,
		Threshold:    cfg.Motion.Threshold,
		DilationSize: cfg.Motion.DilationSize,
		MinimumArea:  cfg.Motion.MinimumArea,
	}, log)

	writer, err := record.NewWriter(record.Config{
		Directory:      cfg.Record.Directory,
		FilenameLayout: cfg.Record.FilenameLayout,
		Codec:          cfg.Record.Codec,
		Framerate:      framerate,
		Width:          width,
		Height:         height,
		Overlay:        cfg.Record.Overlay,
	}, time.Now(), log)
	if err != nil {
		grabber.Close()
		detector.Close()
		return nil, err
	}

	streamer, err := stream.NewServer(stream.Config{
		ListenAddr: cfg.Stream.ListenAddr,
	}, stream.JPEGEncoder{}, log)
	if err != nil {
		grabber.Close()
		detector.Close()
		writer.Close()
		return nil, err
	}

	var messenger pipeline.Messenger
	if cfg.Alert.WebhookURL != "" {
		slack, err := alert.NewSlack(cfg.Alert.WebhookURL, cfg.Alert.Channel, cfg.Alert.Username, log)
		if err != nil {
			grabber.Close()
			detector.Close()
			writer.Close()
			return nil, err
		}
		messenger = slack
	} else {
		log.Warn("no webhook URL configured, notifications disabled")
		messenger = alert.NewDisabled(log)
	}

	opts := pipeline.DefaultOptions()
	opts.AlertCooldown = cfg.AlertCooldown()
	pipe := pipeline.New(opts, grabber, detector, writer, messenger, streamer, log)

	return &Application{
		cfg:      cfg,
		log:      log,
		grabber:  grabber,
		detector: detector,
		writer:   writer,
		streamer: streamer,
		pipe:     pipe,
	}, nil
}

func (app *Application) printBanner() {
	input := fmt.Sprintf("camera %d", app.cfg.Capture.Index)
	if app.cfg.Capture.Video != "" {
		input = app.cfg.Capture.Video
	}
	width, height := app.grabber.FrameSize()

	app.log.Info("fieldcam starting",
		zap.String("input", input),
		zap.Float64("framerate", app.grabber.Framerate()),
		zap.String("frame_size", fmt.Sprintf("%dx%d", width, height)),
		zap.Bool("overlay", app.cfg.Record.Overlay),
		zap.String("output", app.writer.Path()),
		zap.String("stream_addr", app.streamer.Addr().String()),
	)
}

// Cleanup releases capabilities in reverse dependency order. The writer is
// closed last so the container file is finalized after the recording stage
// has drained.
func (app *Application) Cleanup() {
	if app.grabber != nil {
		app.grabber.Close()
	}
	if app.detector != nil {
		app.detector.Close()
	}
	if app.writer != nil {
		app.writer.Close()
	}
}
