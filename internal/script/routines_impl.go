package script

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kenichisakai-git/tofcore/internal/config"
)

// Each routine below is a thin, testable stand-in for the hardware
// procedure it names: it validates its arguments, writes whatever
// artifact the catalog entry is expected to produce under the
// resolved script root, and reports success. The DAQ-facing logic
// that actually drives the SiPM front end lives in C6/C7; these
// routines are the calibration/setup layer the dispatcher reaches for
// outside an active run.

func (e *Executor) initSystem(ScriptArgs) RoutineResult {
	return RoutineResult{Success: true}
}

func (e *Executor) makeBiasCalibTable(args ScriptArgs) RoutineResult {
	a := args.MakeBiasCalibTable
	if a == nil {
		return fail(args.Name, fmt.Errorf("missing MakeBiasCalibTableArgs"))
	}
	path := e.resolve(fmt.Sprintf("bias_calib_%d_%d_%d.json", a.PortID, a.SlaveID, a.SlotID))
	if err := writeJSON(path, a); err != nil {
		return fail(args.Name, err)
	}
	return RoutineResult{Success: true, Artifacts: []string{path}}
}

func (e *Executor) makeSimpleBiasSetTable(args ScriptArgs) RoutineResult {
	a := args.MakeSimpleBiasSetTable
	if a == nil {
		return fail(args.Name, fmt.Errorf("missing MakeSimpleBiasSetTableArgs"))
	}
	if a.BD <= a.PreBD {
		return fail(args.Name, fmt.Errorf("bd %.2f must exceed prebd %.2f", a.BD, a.PreBD))
	}
	path := e.resolve(fmt.Sprintf("bias_simple_%s.json", config.GetCurrentTimestamp()))
	if err := writeJSON(path, a); err != nil {
		return fail(args.Name, err)
	}
	return RoutineResult{Success: true, Artifacts: []string{path}}
}

func (e *Executor) makeSimpleChannelMap(args ScriptArgs) RoutineResult {
	path := e.resolve("channel_map.json")
	if err := writeJSON(path, map[string]bool{"default": true}); err != nil {
		return fail(args.Name, err)
	}
	return RoutineResult{Success: true, Artifacts: []string{path}}
}

func (e *Executor) makeSimpleDiscSetTable(args ScriptArgs) RoutineResult {
	a := args.MakeSimpleDiscSetTable
	if a == nil {
		return fail(args.Name, fmt.Errorf("missing MakeSimpleDiscSetTableArgs"))
	}
	path := e.resolve(fmt.Sprintf("disc_%s.json", config.GetCurrentTimestamp()))
	if err := writeJSON(path, a); err != nil {
		return fail(args.Name, err)
	}
	return RoutineResult{Success: true, Artifacts: []string{path}}
}

func (e *Executor) readTemperatureSensors(args ScriptArgs) RoutineResult {
	a := args.ReadTemperatureSensors
	if a == nil {
		return fail(args.Name, fmt.Errorf("missing ReadTemperatureSensorsArgs"))
	}
	if a.AcqTime <= 0 || a.Interval <= 0 {
		return fail(args.Name, fmt.Errorf("acqTime and interval must be positive"))
	}
	return RoutineResult{Success: true}
}

func (e *Executor) acquireThresholdCalib(args ScriptArgs) RoutineResult {
	a := args.AcquireThresholdCalib
	if a == nil {
		return fail(args.Name, fmt.Errorf("missing AcquireThresholdCalibArgs"))
	}
	switch a.Mode {
	case "all", "baseline_noise", "dark":
	default:
		return fail(args.Name, fmt.Errorf("unknown mode %q", a.Mode))
	}
	path := e.resolve(fmt.Sprintf("threshold_%s_%s.raw", a.Mode, config.GetCurrentTimestamp()))
	if err := os.WriteFile(path, []byte{}, 0644); err != nil {
		return fail(args.Name, err)
	}
	return RoutineResult{Success: true, Artifacts: []string{path}}
}

func (e *Executor) acquireTDCCalib(args ScriptArgs) RoutineResult {
	path := e.resolve(fmt.Sprintf("tdc_%s.raw", config.GetCurrentTimestamp()))
	if err := os.WriteFile(path, []byte{}, 0644); err != nil {
		return fail(args.Name, err)
	}
	return RoutineResult{Success: true, Artifacts: []string{path}}
}

func (e *Executor) acquireQDCCalib(args ScriptArgs) RoutineResult {
	path := e.resolve(fmt.Sprintf("qdc_%s.raw", config.GetCurrentTimestamp()))
	if err := os.WriteFile(path, []byte{}, 0644); err != nil {
		return fail(args.Name, err)
	}
	return RoutineResult{Success: true, Artifacts: []string{path}}
}

func (e *Executor) acquireSiPMData(args ScriptArgs) RoutineResult {
	a := args.AcquireSiPMData
	if a == nil {
		return fail(args.Name, fmt.Errorf("missing AcquireSiPMDataArgs"))
	}
	if a.AcquisitionTime <= 0 {
		return fail(args.Name, fmt.Errorf("acquisitionTime must be positive"))
	}
	path := e.resolve(fmt.Sprintf("sipm_%s.raw", config.GetCurrentTimestamp()))
	if err := os.WriteFile(path, []byte{}, 0644); err != nil {
		return fail(args.Name, err)
	}
	return RoutineResult{Success: true, Artifacts: []string{path}}
}

func writeJSON(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
