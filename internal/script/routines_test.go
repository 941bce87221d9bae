package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/op/go-logging"
)

func testExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	return NewExecutor(dir, logging.MustGetLogger("script-test")), dir
}

func TestRunUnknownRoutineFails(t *testing.T) {
	e, _ := testExecutor(t)
	res := e.Run(ScriptArgs{Name: "not-a-routine"})
	if res.Success {
		t.Fatalf("expected failure for unknown routine")
	}
}

func TestInitSystemSucceeds(t *testing.T) {
	e, _ := testExecutor(t)
	res := e.Run(ScriptArgs{Name: "init-system"})
	if !res.Success {
		t.Fatalf("init-system failed: %v", res.Err)
	}
}

func TestMakeSimpleBiasSetTableRejectsInvertedBias(t *testing.T) {
	e, _ := testExecutor(t)
	res := e.Run(ScriptArgs{
		Name: "make-simple-bias-settings-table",
		MakeSimpleBiasSetTable: &MakeSimpleBiasSetTableArgs{
			Offset: 0, PreBD: 10, BD: 5, Over: 2,
		},
	})
	if res.Success {
		t.Fatalf("expected failure when bd <= prebd")
	}
}

func TestMakeSimpleBiasSetTableProducesArtifact(t *testing.T) {
	e, dir := testExecutor(t)
	res := e.Run(ScriptArgs{
		Name: "make-simple-bias-settings-table",
		MakeSimpleBiasSetTable: &MakeSimpleBiasSetTableArgs{
			Offset: 0, PreBD: 5, BD: 10, Over: 2,
		},
	})
	if !res.Success {
		t.Fatalf("expected success: %v", res.Err)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected one artifact, got %v", res.Artifacts)
	}
	if filepath.Dir(res.Artifacts[0]) != dir {
		t.Fatalf("artifact %q not under script root %q", res.Artifacts[0], dir)
	}
	if _, err := os.Stat(res.Artifacts[0]); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
}

func TestAcquireThresholdCalibRejectsUnknownMode(t *testing.T) {
	e, _ := testExecutor(t)
	res := e.Run(ScriptArgs{
		Name: "acquire-threshold-calibration",
		AcquireThresholdCalib: &AcquireThresholdCalibArgs{
			Mode: "sideways",
		},
	})
	if res.Success {
		t.Fatalf("expected failure for unknown mode")
	}
}

func TestAcquireSiPMDataRejectsNonPositiveAcquisitionTime(t *testing.T) {
	e, _ := testExecutor(t)
	res := e.Run(ScriptArgs{
		Name: "acquire-sipm-data",
		AcquireSiPMData: &AcquireSiPMDataArgs{
			AcquisitionTime: 0,
		},
	})
	if res.Success {
		t.Fatalf("expected failure for zero acquisition time")
	}
}

func TestRunRecoversPanickingRoutine(t *testing.T) {
	e, _ := testExecutor(t)
	e.catalog["panics"] = func(ScriptArgs) RoutineResult {
		panic("boom")
	}
	res := e.Run(ScriptArgs{Name: "panics"})
	if res.Success {
		t.Fatalf("expected failure from recovered panic")
	}
}
