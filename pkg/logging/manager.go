package logging

import "sync"

// processLogger holds the logger shared by one process.
type processLogger struct {
	logger Logger
	once   sync.Once
}

var proc = &processLogger{}

// InitProcessLogger builds the process-wide logger. Later calls are no-ops.
func InitProcessLogger(config LoggerConfig) error {
	var err error
	proc.once.Do(func() {
		proc.logger, err = NewZapLogger(config)
	})
	return err
}

func GetProcessLogger() Logger {
	if proc.logger == nil {
		panic("logger not initialized")
	}
	return proc.logger
}

// Shutdown flushes buffered log entries. Sync errors are expected for stdout
// and ignored.
func Shutdown() {
	if zl, ok := proc.logger.(*ZapLogger); ok && zl != nil {
		_ = zl.logger.Sync()
	}
}
