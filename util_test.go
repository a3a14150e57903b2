package supertyphon

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/monzo/slog"
)

func TestMain(m *testing.M) {
	// seelog's asynchronous queue would otherwise be busy when leak checks look at the running goroutines
	slog.SetDefaultLogger(stderrLogger{})
	os.Exit(m.Run())
}

// stderrLogger writes each event to stderr as it is logged.
type stderrLogger struct{}

func (stderrLogger) Log(evs ...slog.Event) {
	for _, e := range evs {
		fmt.Fprintln(os.Stderr, e.String())
	}
}

func (stderrLogger) Flush() error {
	return nil
}

// captureLogger records the events logged while it is the default logger.
type captureLogger struct {
	m      sync.Mutex
	events []slog.Event
}

// captureLogs installs a captureLogger as the default logger until the test is over. Tests using it must not run in
// parallel.
func captureLogs(t *testing.T) *captureLogger {
	l := &captureLogger{}
	prev := slog.DefaultLogger()
	slog.SetDefaultLogger(l)
	t.Cleanup(func() {
		slog.SetDefaultLogger(prev)
	})
	return l
}

func (l *captureLogger) Log(evs ...slog.Event) {
	l.m.Lock()
	defer l.m.Unlock()
	l.events = append(l.events, evs...)
}

func (l *captureLogger) Flush() error {
	return nil
}

// messages returns the messages logged at sev, in order.
func (l *captureLogger) messages(sev slog.Severity) []string {
	l.m.Lock()
	defer l.m.Unlock()
	var out []string
	for _, e := range l.events {
		if e.Severity == sev {
			out = append(out, e.Message)
		}
	}
	return out
}

func (l *captureLogger) contains(sev slog.Severity, substr string) bool {
	for _, msg := range l.messages(sev) {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func (l *captureLogger) String() string {
	l.m.Lock()
	defer l.m.Unlock()
	return fmt.Sprint(l.events)
}

func TestLoggingLeavesNoGoroutines(t *testing.T) {
	defer leaktest.Check(t)()
	slog.Info(nil, "Logged from %s", t.Name())
	slog.Error(nil, "Logged from %s", t.Name())
}
