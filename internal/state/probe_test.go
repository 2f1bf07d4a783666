// internal/state/probe_test.go
package state

import (
	"path/filepath"
	"testing"
	"time"
)

func TestProbeStore_ListEmpty(t *testing.T) {
	dir := t.TempDir()
	store := NewProbeStore(filepath.Join(dir, "probes.json"))

	probes, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(probes) != 0 {
		t.Errorf("expected empty list, got %d probes", len(probes))
	}
}

func TestProbeStore_AddAndList(t *testing.T) {
	dir := t.TempDir()
	store := NewProbeStore(filepath.Join(dir, "probes.json"))

	probe := &Probe{
		Name:       "morning-check",
		Prompt:     "Summarise overnight alerts",
		Schedule:   "0 9 * * *",
		SessionKey: "log:morning",
		Enabled:    true,
	}

	if err := store.Add(probe); err != nil {
		t.Fatal(err)
	}

	probes, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(probes) != 1 {
		t.Fatalf("expected 1 probe, got %d", len(probes))
	}
	if probes[0].Name != "morning-check" {
		t.Errorf("expected name morning-check, got %s", probes[0].Name)
	}
	if probes[0].Schedule != "0 9 * * *" {
		t.Errorf("expected schedule 0 9 * * *, got %s", probes[0].Schedule)
	}
	if probes[0].SessionKey != "log:morning" {
		t.Errorf("expected session_key log:morning, got %s", probes[0].SessionKey)
	}
	if !probes[0].Enabled {
		t.Error("expected probe to be enabled")
	}
}

func TestProbeStore_AddDuplicate(t *testing.T) {
	dir := t.TempDir()
	store := NewProbeStore(filepath.Join(dir, "probes.json"))

	probe := &Probe{Name: "p", Prompt: "x", SessionKey: "log:p", Enabled: true}
	if err := store.Add(probe); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(probe); err == nil {
		t.Fatal("expected error for duplicate probe name")
	}
}

func TestProbeStore_AddIncomplete(t *testing.T) {
	dir := t.TempDir()
	store := NewProbeStore(filepath.Join(dir, "probes.json"))

	if err := store.Add(&Probe{Name: "p", Prompt: "x"}); err == nil {
		t.Fatal("expected error for probe without session key")
	}
}

func TestProbeStore_GetRemove(t *testing.T) {
	dir := t.TempDir()
	store := NewProbeStore(filepath.Join(dir, "probes.json"))

	for _, name := range []string{"a", "b"} {
		if err := store.Add(&Probe{Name: name, Prompt: "x", SessionKey: "log:" + "x"}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := store.Get("a"); err != nil {
		t.Fatalf("Get a: %v", err)
	}
	if err := store.Remove("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get("a"); err == nil {
		t.Error("expected a to be gone")
	}
	if err := store.Remove("a"); err == nil {
		t.Error("expected error removing missing probe")
	}

	probes, _ := store.List()
	if len(probes) != 1 || probes[0].Name != "b" {
		t.Errorf("expected only b left, got %+v", probes)
	}
}

func TestProbeStore_SetEnabledAndRecordRun(t *testing.T) {
	dir := t.TempDir()
	store := NewProbeStore(filepath.Join(dir, "probes.json"))

	if err := store.Add(&Probe{Name: "p", Prompt: "x", SessionKey: "log:p", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetEnabled("p", false); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.RecordRun("p", at, "success"); err != nil {
		t.Fatal(err)
	}

	p, err := store.Get("p")
	if err != nil {
		t.Fatal(err)
	}
	if p.Enabled {
		t.Error("expected probe to be disabled")
	}
	if p.LastRun == nil || !p.LastRun.Equal(at) {
		t.Errorf("expected last run %v, got %v", at, p.LastRun)
	}
	if p.LastStatus != "success" {
		t.Errorf("expected last status success, got %s", p.LastStatus)
	}

	if err := store.SetEnabled("missing", true); err == nil {
		t.Error("expected error for missing probe")
	}
}
