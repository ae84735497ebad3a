// internal/recovery/recovery.go
package recovery

import (
	"os"
	"runtime/debug"

	"github.com/golang/glog"
)

// exit is replaced in tests.
var exit = os.Exit

// HandlePanic should be deferred at the top of main() or goroutines.
// It logs panic details, flushes the log and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		report(r)
		exit(1)
	}
}

// HandlePanicFunc logs panic details and calls the provided cleanup function
// before exiting.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		report(r)
		if cleanup != nil {
			cleanup()
		}
		exit(1)
	}
}

// Go runs fn on a new goroutine that exits the process on panic.
func Go(fn func()) {
	go func() {
		defer HandlePanic()
		fn()
	}()
}

func report(r any) {
	glog.Errorf("FATAL: %v\n\nStack trace:\n%s", r, debug.Stack())
	glog.Flush()
}
