package wa

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapLogger routes whatsmeow logging into zap.
type zapLogger struct {
	l *zap.SugaredLogger
}

// NewLogger wraps logger as a whatsmeow logger.
func NewLogger(logger *zap.Logger) waLog.Logger {
	return &zapLogger{l: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z *zapLogger) Errorf(msg string, args ...any) { z.l.Errorf(msg, args...) }
func (z *zapLogger) Warnf(msg string, args ...any)  { z.l.Warnf(msg, args...) }
func (z *zapLogger) Infof(msg string, args ...any)  { z.l.Infof(msg, args...) }
func (z *zapLogger) Debugf(msg string, args ...any) { z.l.Debugf(msg, args...) }

func (z *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{l: z.l.Named(module)}
}
