// Package logx sets up the process-wide leveled logger used by every
// component of the control core.
package logx

import (
	stdlog "log"
	"os"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("tofcored")

var stderrFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} ▶ %{message}`,
)

// Setup installs the backend and level for the process logger. logFile
// may be empty, in which case output goes to stderr.
func Setup(logFile string, defaultLevel logging.Level) *logging.Logger {
	var backend logging.Backend
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			backend = logging.NewLogBackend(f, "", 0)
			stdlog.SetOutput(f)
		}
	}
	if backend == nil {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetFormatter(stderrFormat)

	leveled := logging.AddModuleLevel(backend)
	switch os.Getenv("TOFCORE_LOG_LEVEL") {
	case "CRITICAL":
		leveled.SetLevel(logging.CRITICAL, "tofcored")
	case "ERROR":
		leveled.SetLevel(logging.ERROR, "tofcored")
	case "WARNING":
		leveled.SetLevel(logging.WARNING, "tofcored")
	case "NOTICE":
		leveled.SetLevel(logging.NOTICE, "tofcored")
	case "INFO":
		leveled.SetLevel(logging.INFO, "tofcored")
	case "DEBUG":
		leveled.SetLevel(logging.DEBUG, "tofcored")
	default:
		leveled.SetLevel(defaultLevel, "tofcored")
	}

	logging.SetBackend(leveled)
	return log
}

// Get returns the process logger. Setup must be called first for the
// level/backend to take effect; Get works against the default level
// otherwise so packages can log during early init.
func Get() *logging.Logger {
	return log
}
