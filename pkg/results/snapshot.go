package results

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// SnapshotVersion is written into every snapshot; a snapshot with another
// version is rejected rather than guessed at.
const SnapshotVersion = 1

// Core Deterministic Encoding: the same history always produces the same
// bytes, so an unchanged snapshot is rewritten byte-for-byte.
var snapshotEncMode cbor.EncMode

// Values typed any decode as map[string]any and int64 so they compare the
// same way as values parsed from YAML configuration.
var snapshotDecMode cbor.DecMode

func init() {
	var err error
	snapshotEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("results: CBOR encoder initialization failed: " + err.Error())
	}
	snapshotDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic("results: CBOR decoder initialization failed: " + err.Error())
	}
}

type snapshotRecord struct {
	Version int            `cbor:"version"`
	Results []resultRecord `cbor:"results"`
}

type resultRecord struct {
	ID          string        `cbor:"id"`
	Step        string        `cbor:"step"`
	SubStep     string        `cbor:"sub_step"`
	Implementer string        `cbor:"implementer"`
	Environment string        `cbor:"environment,omitempty"`
	Success     bool          `cbor:"success"`
	Message     string        `cbor:"message,omitempty"`
	Artifacts   []entryRecord `cbor:"artifacts,omitempty"`
	Evidence    []entryRecord `cbor:"evidence,omitempty"`
}

type entryRecord struct {
	Name        string `cbor:"name"`
	Value       any    `cbor:"value"`
	Description string `cbor:"description,omitempty"`
}

// MarshalSnapshot encodes the full history, including result IDs, so a
// later run can merge with it losslessly.
func MarshalSnapshot(w *WorkflowResult) ([]byte, error) {
	rec := snapshotRecord{Version: SnapshotVersion}
	for _, r := range w.results {
		rec.Results = append(rec.Results, resultRecord{
			ID:          r.id,
			Step:        r.stepName,
			SubStep:     r.subStepName,
			Implementer: r.implementer,
			Environment: r.environment,
			Success:     r.success,
			Message:     r.message,
			Artifacts:   toEntryRecords(r.artifacts),
			Evidence:    toEntryRecords(r.evidence),
		})
	}
	data, err := snapshotEncMode.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a snapshot written by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*WorkflowResult, error) {
	var rec snapshotRecord
	if err := snapshotDecMode.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if rec.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", rec.Version)
	}
	w := NewWorkflowResult()
	for _, rr := range rec.Results {
		r := &StepResult{
			id:          rr.ID,
			stepName:    rr.Step,
			subStepName: rr.SubStep,
			implementer: rr.Implementer,
			environment: rr.Environment,
			success:     rr.Success,
			message:     rr.Message,
			artifacts:   fromEntryRecords(rr.Artifacts),
			evidence:    fromEntryRecords(rr.Evidence),
		}
		if err := w.AddStepResult(r); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	return w, nil
}

func toEntryRecords(entries []Entry) []entryRecord {
	out := make([]entryRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryRecord{Name: e.Name, Value: e.Value, Description: e.Description})
	}
	return out
}

func fromEntryRecords(records []entryRecord) []Entry {
	if len(records) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		out = append(out, Entry{Name: rec.Name, Value: normalizeInts(rec.Value), Description: rec.Description})
	}
	return out
}

// normalizeInts turns decoded int64 values into int where they fit.
func normalizeInts(v any) any {
	switch t := v.(type) {
	case int64:
		if int64(int(t)) == t {
			return int(t)
		}
		return t
	case []any:
		for i := range t {
			t[i] = normalizeInts(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeInts(t[k])
		}
		return t
	}
	return v
}
