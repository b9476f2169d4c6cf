package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger routes whatsmeow's printf-style logging into slog.
type slogLogger struct {
	l      *slog.Logger
	module string
}

// NewLogger returns a whatsmeow logger writing to l under the given module name.
func NewLogger(l *slog.Logger, module string) waLog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l, module: module}
}

func (s *slogLogger) Errorf(msg string, args ...interface{}) {
	s.l.Error(fmt.Sprintf(msg, args...), "module", s.module)
}

func (s *slogLogger) Warnf(msg string, args ...interface{}) {
	s.l.Warn(fmt.Sprintf(msg, args...), "module", s.module)
}

func (s *slogLogger) Infof(msg string, args ...interface{}) {
	s.l.Info(fmt.Sprintf(msg, args...), "module", s.module)
}

func (s *slogLogger) Debugf(msg string, args ...interface{}) {
	s.l.Debug(fmt.Sprintf(msg, args...), "module", s.module)
}

func (s *slogLogger) Sub(module string) waLog.Logger {
	return &slogLogger{l: s.l, module: s.module + "/" + module}
}
