package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetCurrentTimestampFormat(t *testing.T) {
	ts := GetCurrentTimestamp()
	if len(ts) == 0 || ts[len(ts)-1] != 'Z' {
		t.Fatalf("timestamp %q does not end in Z", ts)
	}
	if _, err := os.Stat("."); err != nil {
		t.Fatalf("sanity check failed: %v", err)
	}
}

func TestGetLatestTimestampPicksGreatest(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"disc_2024-01-01_00-00-00.000Z.json",
		"disc_2024-06-15_12-30-00.000Z.json",
		"disc_2023-12-31_23-59-59.999Z.json",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}

	ts, err := GetLatestTimestamp(dir, "disc", "")
	if err != nil {
		t.Fatalf("GetLatestTimestamp: %v", err)
	}
	if ts != "2024-06-15_12-30-00.000Z" {
		t.Fatalf("got %q, want the 2024-06-15 timestamp", ts)
	}
}

func TestGetLatestTimestampFailsWhenNoneMatch(t *testing.T) {
	dir := t.TempDir()
	if _, err := GetLatestTimestamp(dir, "disc", ""); err == nil {
		t.Fatalf("expected error for empty directory")
	}
}

func TestMakeFilePathWithTimestampAndGetFileByTimestamp(t *testing.T) {
	dir := t.TempDir()
	path := MakeFilePathWithTimestamp(dir, "tdc", "2024-06-15_12-30-00.000Z", ".json")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resolved, err := GetFileByTimestamp(dir, "tdc", "2024-06-15_12-30-00.000Z", "")
	if err != nil {
		t.Fatalf("GetFileByTimestamp: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved %q, want %q", resolved, path)
	}
}
