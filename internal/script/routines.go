// Package script implements the named-routine catalog the dispatcher
// invokes to run calibration and acquisition procedures, translating
// every uncaught failure into a logged boolean.
package script

import (
	"fmt"
	"path/filepath"

	"github.com/op/go-logging"
)

// ScriptArgs is a typed union: at most one of the embedded pointers is
// non-nil, matching the argument shape the routine named by Name
// expects (§4.8); routines that take no arguments get none.
type ScriptArgs struct {
	Name string

	MakeBiasCalibTable     *MakeBiasCalibTableArgs
	MakeSimpleBiasSetTable *MakeSimpleBiasSetTableArgs
	MakeSimpleDiscSetTable *MakeSimpleDiscSetTableArgs
	ReadTemperatureSensors *ReadTemperatureSensorsArgs
	AcquireThresholdCalib  *AcquireThresholdCalibArgs
	AcquireSiPMData        *AcquireSiPMDataArgs
}

type MakeBiasCalibTableArgs struct {
	PortID, SlaveID, SlotID int
}

type MakeSimpleBiasSetTableArgs struct {
	Offset, PreBD, BD, Over float64
}

type MakeSimpleDiscSetTableArgs struct {
	VthT1, VthT2, VthE int
}

type ReadTemperatureSensorsArgs struct {
	AcqTime, Interval, Startup int
	Debug                      bool
}

type AcquireThresholdCalibArgs struct {
	Mode                   string // "all", "baseline_noise", "dark"
	NoiseReads, DarkReads  int
	ExtBias                bool
}

type AcquireSiPMDataArgs struct {
	AcquisitionTime int
	HWTrigger       bool
}

// RoutineResult is every routine's return contract.
type RoutineResult struct {
	Success   bool
	Err       error
	Artifacts []string
}

func fail(name string, err error) RoutineResult {
	return RoutineResult{Success: false, Err: fmt.Errorf("%s: %w", name, err)}
}

// Routine is the uniform shape of every catalog entry.
type Routine func(args ScriptArgs) RoutineResult

// Executor resolves routines by name and runs them, translating panics
// and errors into a logged false per spec.md §4.8's contract.
//
// Grounded on the teacher's krgpg.go/git.go pattern: "shell out to a
// named external capability, log and return false on any failure"
// (there: GPG/git subprocess invocation; here: in-process calibration
// routines operating on files under scriptRoot).
type Executor struct {
	scriptRoot string
	log        *logging.Logger
	catalog    map[string]Routine
}

func NewExecutor(scriptRoot string, log *logging.Logger) *Executor {
	e := &Executor{scriptRoot: scriptRoot, log: log}
	e.catalog = map[string]Routine{
		"init-system":                     e.initSystem,
		"make-bias-calibration-table":     e.makeBiasCalibTable,
		"make-simple-bias-settings-table": e.makeSimpleBiasSetTable,
		"make-simple-channel-map":         e.makeSimpleChannelMap,
		"make-simple-disc-settings-table": e.makeSimpleDiscSetTable,
		"read-temperature-sensors":        e.readTemperatureSensors,
		"acquire-threshold-calibration":   e.acquireThresholdCalib,
		"acquire-tdc-calibration":         e.acquireTDCCalib,
		"acquire-qdc-calibration":         e.acquireQDCCalib,
		"acquire-sipm-data":               e.acquireSiPMData,
	}
	return e
}

// Run looks up args.Name and invokes it, recovering any panic into a
// logged false result rather than letting it propagate to the
// dispatcher.
func (e *Executor) Run(args ScriptArgs) (result RoutineResult) {
	routine, ok := e.catalog[args.Name]
	if !ok {
		e.log.Error("script executor: unknown routine", args.Name)
		return RoutineResult{Success: false, Err: fmt.Errorf("unknown routine %q", args.Name)}
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("script executor: routine panicked:", args.Name, r)
			result = RoutineResult{Success: false, Err: fmt.Errorf("%s: panicked: %v", args.Name, r)}
		}
	}()

	result = routine(args)
	if !result.Success {
		e.log.Warning("script executor: routine failed:", args.Name, result.Err)
	}
	return result
}

// resolve joins a relative path against the script root; absolute
// paths are returned unchanged.
func (e *Executor) resolve(relOrAbs string) string {
	if filepath.IsAbs(relOrAbs) {
		return relOrAbs
	}
	return filepath.Join(e.scriptRoot, relOrAbs)
}
