package monitor

import "github.com/rs/zerolog"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log at warn level.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Send(message string) error {
	s.Logger.Warn().Str("component", "alert").Msg(message)
	return nil
}
