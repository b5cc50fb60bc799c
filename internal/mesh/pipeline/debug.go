package pipeline

import (
	"io"
	"log"
)

const logPrefix = "[pipeline] "

// Log streams. A nil logger disables its stream.
var (
	opsLogger   *log.Logger // skipped records, failed runs
	diagLogger  *log.Logger // empty examples, run summaries
	traceLogger *log.Logger // per-batch telemetry
)

// SetLogWriters configures the ops, diag and trace streams of the pipeline.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = streamLogger(ops)
	diagLogger = streamLogger(diag)
	traceLogger = streamLogger(trace)
}

// SetLegacyLogger routes all three streams to w. Pass nil to disable all
// logging.
func SetLegacyLogger(w io.Writer) {
	SetLogWriters(w, w, w)
}

func streamLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, logPrefix, log.LstdFlags|log.Lmicroseconds)
}

func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
