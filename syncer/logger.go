package syncer

import (
	"fmt"
	"log"
	"strings"
)

// Logger allows custom logging (for embedding the driver in another service)
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger uses standard log package
type defaultLogger struct {
	prefix string
}

func newDefaultLogger(network string) *defaultLogger {
	return &defaultLogger{prefix: fmt.Sprintf("[Sync %s]", network)}
}

func (l *defaultLogger) Info(msg string, args ...any) {
	log.Printf("%s %s%s", l.prefix, msg, formatArgs(args))
}
func (l *defaultLogger) Warn(msg string, args ...any) {
	log.Printf("%s WARN %s%s", l.prefix, msg, formatArgs(args))
}
func (l *defaultLogger) Error(msg string, args ...any) {
	log.Printf("%s ERROR %s%s", l.prefix, msg, formatArgs(args))
}

// formatArgs renders alternating key/value args as " k=v k=v"
func formatArgs(args []any) string {
	var b strings.Builder
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return b.String()
}
