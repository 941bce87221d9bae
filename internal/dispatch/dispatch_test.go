package dispatch

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kenichisakai-git/tofcore/internal/config"
	"github.com/kenichisakai-git/tofcore/internal/frame"
	"github.com/kenichisakai-git/tofcore/internal/script"
	"github.com/op/go-logging"
)

func testLog() *logging.Logger { return logging.MustGetLogger("dispatch-test") }

type fakeWorker struct {
	mu          sync.Mutex
	initCalls   int
	runCalls    int
	cleanupCall int
	initErr     error
	runBlock    chan struct{}
	stopped     chan struct{}
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{runBlock: make(chan struct{}), stopped: make(chan struct{}, 8)}
}

func (f *fakeWorker) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeWorker) Run() error {
	f.mu.Lock()
	f.runCalls++
	f.mu.Unlock()
	<-f.runBlock
	return nil
}

func (f *fakeWorker) Stop() {
	select {
	case f.runBlock <- struct{}{}:
	default:
	}
	f.stopped <- struct{}{}
}

func (f *fakeWorker) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupCall++
	f.runBlock = make(chan struct{})
	return nil
}

// testDispatcher builds a Dispatcher with noFPGA=true (the test
// default, so an Initialize() failure never reaches for os.Exit) and
// no fatal callback. Use newTestDispatcherWithOptions directly for
// tests exercising the hardware-mode fatal path.
func testDispatcher(t *testing.T, worker daqLifecycle) (*Dispatcher, string) {
	t.Helper()
	return newTestDispatcherWithOptions(t, worker, true, nil)
}

func newTestDispatcherWithOptions(t *testing.T, worker daqLifecycle, noFPGA bool, fatal func(error)) (*Dispatcher, string) {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("TOFDATA", dir)
	t.Cleanup(func() { os.Unsetenv("TOFDATA") })

	cfgPath := filepath.Join(dir, "tofcore.ini")
	os.WriteFile(cfgPath, []byte(`[main]
disc_calibration_table = %CDIR%/calibration/disc_latest.json
tdc_calibration_table = %CDIR%/calibration/tdc_latest.json
qdc_calibration_table = %CDIR%/calibration/qdc_latest.json
`), 0644)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	scriptsRoot := filepath.Join(dir, "scripts")
	os.MkdirAll(scriptsRoot, 0755)
	scripts := script.NewExecutor(scriptsRoot, testLog())

	return New(cfg, scripts, worker, testLog(), noFPGA, fatal), dir
}

func TestStartDAQFailsWhenAlreadyRunning(t *testing.T) {
	worker := newFakeWorker()
	d, _ := testDispatcher(t, worker)

	if !d.Dispatch(frame.StartDAQ, nil) {
		t.Fatalf("expected first StartDAQ to succeed")
	}
	if d.Dispatch(frame.StartDAQ, nil) {
		t.Fatalf("expected second StartDAQ to fail while already running")
	}
	d.Dispatch(frame.StopDAQ, nil)
}

func TestStopDAQFailsWhenNotRunning(t *testing.T) {
	worker := newFakeWorker()
	d, _ := testDispatcher(t, worker)

	if d.Dispatch(frame.StopDAQ, nil) {
		t.Fatalf("expected StopDAQ to fail when not running")
	}
}

func TestStopDAQJoinsWorkerGoroutine(t *testing.T) {
	worker := newFakeWorker()
	d, _ := testDispatcher(t, worker)

	d.Dispatch(frame.StartDAQ, nil)
	if !d.Dispatch(frame.StopDAQ, nil) {
		t.Fatalf("expected StopDAQ to succeed")
	}

	select {
	case <-worker.stopped:
	case <-time.After(time.Second):
		t.Fatalf("worker.Stop was not observed")
	}
	// by the time StopDAQ returns, the run goroutine must have been
	// joined -- a second StartDAQ should succeed immediately.
	if !d.Dispatch(frame.StartDAQ, nil) {
		t.Fatalf("expected StartDAQ to succeed again after a clean stop")
	}
	d.Dispatch(frame.StopDAQ, nil)
}

func TestStartDAQFailsWhenInitializeErrors(t *testing.T) {
	worker := newFakeWorker()
	worker.initErr = errors.New("card not found")
	d, _ := testDispatcher(t, worker)

	if d.Dispatch(frame.StartDAQ, nil) {
		t.Fatalf("expected StartDAQ to fail when Initialize errors")
	}
}

func TestStartDAQCallsFatalOnInitializeErrorWithRealHardware(t *testing.T) {
	worker := newFakeWorker()
	worker.initErr = errors.New("card not found")

	var fatalErr error
	var fatalCalls int
	var mu sync.Mutex
	d, _ := newTestDispatcherWithOptions(t, worker, false, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		fatalCalls++
		fatalErr = err
	})

	if d.Dispatch(frame.StartDAQ, nil) {
		t.Fatalf("expected StartDAQ to fail when Initialize errors")
	}

	mu.Lock()
	defer mu.Unlock()
	if fatalCalls != 1 {
		t.Fatalf("expected fatal to be called once, got %d", fatalCalls)
	}
	if fatalErr == nil {
		t.Fatalf("expected fatal to receive the initialize error")
	}
}

func TestStartDAQDoesNotCallFatalUnderNoFPGA(t *testing.T) {
	worker := newFakeWorker()
	worker.initErr = errors.New("card not found")

	fatalCalls := 0
	d, _ := newTestDispatcherWithOptions(t, worker, true, func(err error) {
		fatalCalls++
	})

	if d.Dispatch(frame.StartDAQ, nil) {
		t.Fatalf("expected StartDAQ to fail when Initialize errors")
	}
	if fatalCalls != 0 {
		t.Fatalf("expected fatal not to be called under --no-fpga, got %d calls", fatalCalls)
	}
}

func TestHeartBeatIsANoOpSuccess(t *testing.T) {
	d, _ := testDispatcher(t, newFakeWorker())
	if !d.Dispatch(frame.HeartBeat, nil) {
		t.Fatalf("expected HeartBeat to report success")
	}
}

func TestUnknownCodeFails(t *testing.T) {
	d, _ := testDispatcher(t, newFakeWorker())
	if d.Dispatch(frame.CommandCode(0x1234), nil) {
		t.Fatalf("expected unknown code to fail")
	}
}

func TestMakeSimpleChannelMapRunsScript(t *testing.T) {
	d, dir := testDispatcher(t, newFakeWorker())
	if !d.Dispatch(frame.MakeSimpleChannelMap, nil) {
		t.Fatalf("expected MakeSimpleChannelMap to succeed")
	}
	if _, err := os.Stat(filepath.Join(dir, "scripts", "channel_map.json")); err != nil {
		t.Fatalf("expected channel map artifact: %v", err)
	}
}

func TestProcessThresholdCalibPublishesLatestArtifact(t *testing.T) {
	d, dir := testDispatcher(t, newFakeWorker())
	stg0 := filepath.Join(dir, "stg0")
	os.MkdirAll(stg0, 0755)
	os.MkdirAll(filepath.Join(dir, "calibration"), 0755)
	os.WriteFile(filepath.Join(stg0, "threshold_2024-01-01_00-00-00.000Z.raw"), []byte{1}, 0644)
	os.WriteFile(filepath.Join(stg0, "threshold_2024-06-01_00-00-00.000Z.raw"), []byte{2}, 0644)

	if !d.Dispatch(frame.ProcessThresholdCalib, nil) {
		t.Fatalf("expected ProcessThresholdCalib to succeed")
	}
	link := filepath.Join(dir, "calibration", "disc_latest.json")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if filepath.Base(target) != "threshold_2024-06-01_00-00-00.000Z.raw" {
		t.Fatalf("published %q, want the newer artifact", target)
	}
}

func TestProcessThresholdCalibFailsWithoutArtifacts(t *testing.T) {
	d, dir := testDispatcher(t, newFakeWorker())
	os.MkdirAll(filepath.Join(dir, "stg0"), 0755)
	os.MkdirAll(filepath.Join(dir, "calibration"), 0755)

	if d.Dispatch(frame.ProcessThresholdCalib, nil) {
		t.Fatalf("expected failure with no calibration artifacts present")
	}
}
