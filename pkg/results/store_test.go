package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

func TestStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	store := NewStore(dir)

	empty, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if empty.Len() != 0 {
		t.Fatalf("fresh store holds %d results", empty.Len())
	}

	w := NewWorkflowResult()
	r := NewStepResult("deploy", "Apply", "implementers.deploy.Apply", "prod")
	r.SetMessage("applied")
	r.AddArtifact("replicas", 3)
	r.AddArtifact("labels", map[string]any{"tier": "web", "ports": []any{80, 443}})
	r.AddEvidence("healthy", true, "probe result")
	w.AddStepResult(r)
	if err := store.Persist(w); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	got := loaded.GetStepResult("deploy", "Apply", "prod")
	if got == nil {
		t.Fatal("persisted result not loaded")
	}
	if got.ID() != r.ID() || got.Message() != "applied" || !got.Success() {
		t.Errorf("loaded = id %q message %q success %v", got.ID(), got.Message(), got.Success())
	}
	if v := got.ArtifactValue("replicas"); v != 3 {
		t.Errorf("replicas = %#v, want int 3", v)
	}
	if v := got.ArtifactValue("labels"); !reflect.DeepEqual(v, map[string]any{"tier": "web", "ports": []any{80, 443}}) {
		t.Errorf("labels = %#v", v)
	}
	if e, _ := got.EvidenceEntry("healthy"); e.Value != true || e.Description != "probe result" {
		t.Errorf("evidence = %+v", e)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("rendered YAML: %v", err)
	}
	step := doc[KeyStepRunnerResults].(map[string]any)["prod"].(map[string]any)["deploy"].(map[string]any)["Apply"].(map[string]any)
	if step[KeyMessage] != "applied" {
		t.Errorf("rendered message = %v", step[KeyMessage])
	}
}

// Two processes running different sub-steps against the same directory
// accumulate one history.
func TestStore_AccumulatesAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	first := NewWorkflowResult()
	first.AddStepResult(NewStepResult("build", "Compile", "i", ""))
	if err := NewStore(dir).Persist(first); err != nil {
		t.Fatal(err)
	}

	second := NewWorkflowResult()
	second.AddStepResult(NewStepResult("deploy", "Apply", "i", "dev"))
	if err := NewStore(dir).Persist(second); err != nil {
		t.Fatal(err)
	}
	if second.Len() != 2 {
		t.Errorf("in-memory history after persist = %d, want 2", second.Len())
	}

	// Persisting an already merged history again changes nothing.
	if err := NewStore(dir).Persist(second); err != nil {
		t.Fatalf("re-persist = %v", err)
	}
	loaded, err := NewStore(dir).Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 2 {
		t.Errorf("loaded %d results, want 2", loaded.Len())
	}

	rerun := NewWorkflowResult()
	rerun.AddStepResult(NewStepResult("build", "Compile", "i", ""))
	if err := NewStore(dir).Persist(rerun); err == nil {
		t.Error("a second run of the same sub-step was merged silently")
	}
}

// Processes sharing a results directory each persist one sub-step of the
// same step at the same time; none of their results may be lost.
func TestStore_ConcurrentPersist(t *testing.T) {
	dir := t.TempDir()
	const n = 16

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := NewWorkflowResult()
			if err := w.AddStepResult(NewStepResult("test", fmt.Sprintf("shard-%d", i), "implementers.test.Shard", "")); err != nil {
				errs <- err
				return
			}
			errs <- NewStore(dir).Persist(w)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Persist: %v", err)
		}
	}

	loaded, err := NewStore(dir).Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != n {
		t.Fatalf("loaded %d results, want %d", loaded.Len(), n)
	}
	for i := 0; i < n; i++ {
		if loaded.GetStepResult("test", fmt.Sprintf("shard-%d", i), "") == nil {
			t.Errorf("shard-%d missing", i)
		}
	}
}

func TestStore_IdenticalHistoryWritesIdenticalSnapshot(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	w := NewWorkflowResult()
	r := NewStepResult("s", "a", "i", "")
	r.AddArtifact("m", map[string]any{"z": 1, "a": 2, "k": 3})
	w.AddStepResult(r)
	if err := store.Persist(w); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(store.SnapshotPath())
	if err := store.Persist(w); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(store.SnapshotPath())
	if string(before) != string(after) {
		t.Error("snapshot bytes changed for an unchanged history")
	}
}

func TestFileStore_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := strings.TrimSuffix(path, ".json") + ".cbor"; store.SnapshotPath() != want {
		t.Errorf("SnapshotPath() = %q, want %q", store.SnapshotPath(), want)
	}
	w := NewWorkflowResult()
	w.AddStepResult(NewStepResult("s", "a", "i", ""))
	if err := store.Persist(w); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("rendered JSON: %v", err)
	}
	if _, ok := doc[KeyStepRunnerResults]; !ok {
		t.Errorf("rendered JSON = %s", data)
	}

	if _, err := NewFileStore(filepath.Join(t.TempDir(), "out.txt")); err == nil {
		t.Error("unsupported extension accepted")
	}
}

func TestStore_EmptySnapshot(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if err := os.WriteFile(store.SnapshotPath(), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := store.Load()
	if err != nil || w.Len() != 0 {
		t.Errorf("Load() = %v, %v, want empty history", w, err)
	}
}

func TestUnmarshalSnapshot_Errors(t *testing.T) {
	future, err := cbor.Marshal(snapshotRecord{Version: SnapshotVersion + 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalSnapshot(future); err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("future version = %v", err)
	}
	if _, err := UnmarshalSnapshot([]byte("not cbor")); err == nil {
		t.Error("garbage accepted")
	}

	dup := snapshotRecord{Version: SnapshotVersion, Results: []resultRecord{
		{ID: "1", Step: "s", SubStep: "a"},
		{ID: "2", Step: "s", SubStep: "a"},
	}}
	data, err := cbor.Marshal(dup)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalSnapshot(data); err == nil {
		t.Error("snapshot with duplicate results accepted")
	}
}
