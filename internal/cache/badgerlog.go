package cache

import "go.uber.org/zap"

// badgerLogger adapts a zap.Logger to badger.Logger, so BadgerDB's internal
// compaction/GC messages land in the same structured log stream as
// everything else.
type badgerLogger struct {
	*zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	return &badgerLogger{SugaredLogger: logger.Sugar()}
}

func (l *badgerLogger) Warningf(template string, args ...interface{}) {
	l.Warnf(template, args...)
}
