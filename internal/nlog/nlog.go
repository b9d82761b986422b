// Package nlog is msgnet's ambient logger: buffered, timestamped,
// line-oriented, with the same three severities and flush-on-demand shape
// as a small daemon logger would use, scaled down to what a transport
// library needs — no file rotation, since msgnet has no daemon lifecycle of its own.
package nlog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

func (s severity) tag() byte {
	switch s {
	case sevWarn:
		return 'W'
	case sevErr:
		return 'E'
	default:
		return 'I'
	}
}

var (
	mu  sync.Mutex
	out = bufio.NewWriter(os.Stderr)

	// AlsoToStderr mirrors a common -alsologtostderr flag: when false
	// (the default) only warnings and errors reach the stream eagerly, info
	// lines stay buffered until Flush.
	AlsoToStderr = false
)

func log(sev severity, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "%c %s %s\n", sev.tag(), time.Now().Format("15:04:05.000000"), fmt.Sprintf(format, args...))
	if AlsoToStderr || sev >= sevWarn {
		out.Flush()
	}
}

func Infof(format string, args ...any)    { log(sevInfo, format, args...) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Errorf(format string, args ...any)   { log(sevErr, format, args...) }

// Flush forces any buffered info lines out to the writer, the same
// operation any buffered logger needs before process exit.
func Flush() {
	mu.Lock()
	defer mu.Unlock()
	out.Flush()
}
