package alert

import "go.uber.org/zap"

// Disabled is the messenger used when no webhook URL is configured. Motion
// events are logged and dropped.
type Disabled struct {
	log *zap.Logger
}

func NewDisabled(log *zap.Logger) *Disabled {
	if log == nil {
		log = zap.L()
	}
	return &Disabled{log: log.Named("alert")}
}

func (d *Disabled) Payload(text string) (string, error) {
	return text, nil
}

func (d *Disabled) Send(payload string) error {
	d.log.Info("motion detected (notifications disabled)", zap.String("text", payload))
	return nil
}
