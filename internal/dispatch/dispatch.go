// Package dispatch implements the command table mapping a received
// CommandCode and its argument vector to one of: a DAQ lifecycle
// transition, a Script Executor invocation, or an offline-processing
// publish step.
package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/kenichisakai-git/tofcore/internal/config"
	"github.com/kenichisakai-git/tofcore/internal/frame"
	"github.com/kenichisakai-git/tofcore/internal/publish"
	"github.com/kenichisakai-git/tofcore/internal/script"
	"github.com/op/go-logging"
	uuid "github.com/satori/go.uuid"
)

const diagnosticsCacheSize = 256

// diagnosticRecord is one entry in the dispatch-audit cache: the
// pack-grounded stand-in for the teacher's request/callback-ID LRUs,
// repurposed here from request matching (unneeded -- CALLBACKs are
// synchronous) to a bounded dispatch history. Entries are only
// recorded; nothing in this package reads them back.
type diagnosticRecord struct {
	Code    frame.CommandCode
	Success bool
}

// Dispatcher holds the mutable DAQ session and the collaborators every
// dispatch action reaches into.
type Dispatcher struct {
	log        *logging.Logger
	cfg        *config.Store
	scripts    *script.Executor
	daq        *daqSession
	diagnostic *lru.Cache
	noFPGA     bool
	fatal      func(error)

	mu    sync.Mutex
	runID uuid.UUID
}

// New builds a Dispatcher. worker is the DAQ session's lifecycle
// collaborator (normally a *daq.Worker). noFPGA mirrors the
// --no-fpga flag: with real hardware, a DAQ initialization failure is
// fatal (spec.md §4.9/§7's InitError), reported through fatal rather
// than folded into the CALLBACK success bit like an ordinary
// DispatchError; fatal may be nil, in which case the failure is only
// logged. Under --no-fpga, initialization failures stay non-fatal.
func New(cfg *config.Store, scripts *script.Executor, worker daqLifecycle, log *logging.Logger, noFPGA bool, fatal func(error)) *Dispatcher {
	cache, _ := lru.New(diagnosticsCacheSize)
	return &Dispatcher{
		log:        log,
		cfg:        cfg,
		scripts:    scripts,
		daq:        newDAQSession(worker),
		diagnostic: cache,
		noFPGA:     noFPGA,
		fatal:      fatal,
	}
}

// Dispatch routes code/argv to its action and reports the boolean the
// caller should fold into the answering CALLBACK's success bit.
// Dispatcher exceptions never propagate: any panic surfaced by a
// collaborator is recovered here and translated to false.
func (d *Dispatcher) Dispatch(code frame.CommandCode, argv []int32) (success bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch: panic handling", frame.Name(code), ":", r)
			success = false
		}
		if d.diagnostic != nil {
			d.diagnostic.Add(uuid.NewV4(), diagnosticRecord{Code: code, Success: success})
		}
	}()

	switch code {
	case frame.StartDAQ:
		success = d.startDAQ()
	case frame.StopDAQ:
		success = d.stopDAQ()
	case frame.ResetDAQ:
		success = d.resetDAQ()
	case frame.HeartBeat:
		success = true

	case frame.InitSystem:
		success = d.runScript(script.ScriptArgs{Name: "init-system"})
	case frame.MakeBiasCalibTable:
		success = d.runScript(script.ScriptArgs{
			Name: "make-bias-calibration-table",
			MakeBiasCalibTable: &script.MakeBiasCalibTableArgs{
				PortID:  int(argAt(argv, 0, 0)),
				SlaveID: int(argAt(argv, 1, 0)),
				SlotID:  int(argAt(argv, 2, 0)),
			},
		})
	case frame.MakeSimpleBiasSetTable:
		success = d.runScript(script.ScriptArgs{
			Name: "make-simple-bias-settings-table",
			MakeSimpleBiasSetTable: &script.MakeSimpleBiasSetTableArgs{
				Offset: float64(argAt(argv, 0, 0)),
				PreBD:  float64(argAt(argv, 1, 0)),
				BD:     float64(argAt(argv, 2, 0)),
				Over:   float64(argAt(argv, 3, 5)),
			},
		})
	case frame.MakeSimpleChannelMap:
		success = d.runScript(script.ScriptArgs{Name: "make-simple-channel-map"})
	case frame.MakeSimpleDiscSetTable:
		success = d.runScript(script.ScriptArgs{
			Name: "make-simple-disc-settings-table",
			MakeSimpleDiscSetTable: &script.MakeSimpleDiscSetTableArgs{
				VthT1: int(argAt(argv, 0, 20)),
				VthT2: int(argAt(argv, 1, 15)),
				VthE:  int(argAt(argv, 2, 10)),
			},
		})
	case frame.ReadTemperatureSensors:
		success = d.runScript(script.ScriptArgs{
			Name: "read-temperature-sensors",
			ReadTemperatureSensors: &script.ReadTemperatureSensorsArgs{
				AcqTime:  int(argAt(argv, 0, 60)),
				Interval: int(argAt(argv, 1, 5)),
				Startup:  int(argAt(argv, 2, 0)),
				Debug:    argAt(argv, 3, 0) != 0,
			},
		})
	case frame.AcquireThresholdCalib, frame.AcquireThresholdCalibBN, frame.AcquireThresholdCalibD:
		success = d.runScript(script.ScriptArgs{
			Name: "acquire-threshold-calibration",
			AcquireThresholdCalib: &script.AcquireThresholdCalibArgs{
				Mode:       thresholdModeFor(code),
				NoiseReads: int(argAt(argv, 0, 10)),
				DarkReads:  int(argAt(argv, 1, 10)),
				ExtBias:    argAt(argv, 2, 0) != 0,
			},
		})
	case frame.AcquireTDCCalib:
		success = d.runScript(script.ScriptArgs{Name: "acquire-tdc-calibration"})
	case frame.AcquireQDCCalib:
		success = d.runScript(script.ScriptArgs{Name: "acquire-qdc-calibration"})
	case frame.AcquireSiPMData:
		success = d.runScript(script.ScriptArgs{
			Name: "acquire-sipm-data",
			AcquireSiPMData: &script.AcquireSiPMDataArgs{
				AcquisitionTime: int(argAt(argv, 0, 60)),
				HWTrigger:       argAt(argv, 1, 0) != 0,
			},
		})

	case frame.ProcessThresholdCalib:
		success = d.publishLatest("stg0", "threshold", ".raw", "main", "disc_calibration_table")
	case frame.ProcessTDCCalib:
		success = d.publishLatest("tdc", "tdc", ".raw", "main", "tdc_calibration_table")
	case frame.ProcessQDCCalib:
		success = d.publishLatest("qdc", "qdc", ".raw", "main", "qdc_calibration_table")
	case frame.ConvertRawToRaw, frame.ConvertRawToSingles:
		d.log.Info("dispatch: received", frame.Name(code))
		success = true // offline conversion is handled by the external pipeline; dispatch only logs receipt.

	default:
		d.log.Error("dispatch: unknown command code", fmt.Sprintf("0x%04X", uint16(code)))
		success = false
	}

	return success
}

func (d *Dispatcher) startDAQ() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	runID := uuid.NewV4()
	ok, initErr := d.daq.start(func(err error) {
		if err != nil {
			d.log.Error("daq run", runID.String(), "exited with error:", err)
		} else {
			d.log.Info("daq run", runID.String(), "exited cleanly")
		}
	})
	if ok {
		d.runID = runID
		d.log.Info("daq run", d.runID.String(), "started")
		return true
	}
	if initErr != nil {
		d.handleInitError(initErr)
	}
	return false
}

// handleInitError reports a failed DAQ Initialize(). With real
// hardware this is fatal per spec.md's InitError classification;
// under --no-fpga it is only logged, matching an ordinary
// DispatchError.
func (d *Dispatcher) handleInitError(err error) {
	if d.noFPGA {
		d.log.Error("dispatch: daq initialize failed (no-fpga, non-fatal):", err)
		return
	}
	d.log.Critical("dispatch: daq initialize failed, terminating:", err)
	if d.fatal != nil {
		d.fatal(err)
	}
}

func (d *Dispatcher) stopDAQ() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ok := d.daq.stop()
	if ok {
		d.log.Info("daq run", d.runID.String(), "stopped")
	}
	return ok
}

func (d *Dispatcher) resetDAQ() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	prevRunID := d.runID
	ok, initErr := d.daq.reset(func(err error) {
		if err != nil {
			d.log.Error("daq run", prevRunID.String(), "exited with error after reset:", err)
		}
	})
	if ok {
		d.runID = uuid.NewV4()
		d.log.Info("daq run", prevRunID.String(), "reset into", d.runID.String())
		return true
	}
	if initErr != nil {
		d.handleInitError(initErr)
	}
	return false
}

func (d *Dispatcher) runScript(args script.ScriptArgs) bool {
	result := d.scripts.Run(args)
	return result.Success
}

// publishLatest resolves the newest file of the given kind under
// $TOFDATA/<dataDir> and publishes it to the config-resolved
// destination for configSection.configKey.
func (d *Dispatcher) publishLatest(dataDir, prefix, suffix, configSection, configKey string) bool {
	dst, err := d.cfg.GetAbsolutePath(configSection, configKey)
	if err != nil {
		d.log.Error("dispatch: resolve publish destination:", err)
		return false
	}
	tofdata := os.Getenv("TOFDATA")
	if tofdata == "" {
		d.log.Error("dispatch: $TOFDATA is not set")
		return false
	}
	srcDir := filepath.Join(tofdata, dataDir)

	if _, err := publish.Publish(srcDir, prefix, suffix, dst, true); err != nil {
		d.log.Error("dispatch: publish", prefix, "failed:", err)
		return false
	}
	return true
}

func thresholdModeFor(code frame.CommandCode) string {
	switch code {
	case frame.AcquireThresholdCalibBN:
		return "baseline_noise"
	case frame.AcquireThresholdCalibD:
		return "dark"
	default:
		return "all"
	}
}

// argAt returns argv[i] if present, otherwise def.
func argAt(argv []int32, i int, def int32) int32 {
	if i < len(argv) {
		return argv[i]
	}
	return def
}
