package docflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// ComparisonRecord captures the diagnostic diff between a primary run and its
// shadow run. Records never influence routing; they exist to build confidence
// in a candidate pipeline before rollout.
type ComparisonRecord struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id"`

	PrimaryVariant Variant `json:"primary_variant"`
	ShadowVariant  Variant `json:"shadow_variant"`

	// ConfidenceDelta is shadow minus primary overall confidence.
	ConfidenceDelta float64 `json:"confidence_delta"`

	// FieldMatchRate is the fraction of final mapped fields on which the two
	// runs agree, in [0,1].
	FieldMatchRate float64 `json:"field_match_rate"`

	// LatencyDelta is shadow minus primary summed stage latency.
	LatencyDelta time.Duration `json:"latency_delta"`

	ShadowStatus WorkflowStatus `json:"shadow_status"`
	ShadowError  string         `json:"shadow_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newComparisonID() string {
	id, err := typeid.WithPrefix("cmp")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ComparisonRecorder persists comparison records for offline analysis.
type ComparisonRecorder interface {
	Record(ctx context.Context, record *ComparisonRecord) error
}

// MemoryComparisonRecorder keeps records in memory, primarily for tests.
type MemoryComparisonRecorder struct {
	mutex   sync.Mutex
	records []*ComparisonRecord
}

func NewMemoryComparisonRecorder() *MemoryComparisonRecorder {
	return &MemoryComparisonRecorder{}
}

func (r *MemoryComparisonRecorder) Record(ctx context.Context, record *ComparisonRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.records = append(r.records, record)
	return nil
}

// Records returns a snapshot of everything recorded so far.
func (r *MemoryComparisonRecorder) Records() []*ComparisonRecord {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]*ComparisonRecord, len(r.records))
	copy(out, r.records)
	return out
}

// FileComparisonRecorder appends records to a JSONL file.
type FileComparisonRecorder struct {
	mutex sync.Mutex
	path  string
}

func NewFileComparisonRecorder(path string) *FileComparisonRecorder {
	return &FileComparisonRecorder{path: path}
}

func (r *FileComparisonRecorder) Record(ctx context.Context, record *ComparisonRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create comparison directory: %w", err)
		}
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open comparison file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal comparison record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write comparison record: %w", err)
	}
	return nil
}

// fieldMatchRate compares the final mapped fields of two runs: the fraction of
// keys, over the union, whose values are deeply equal. Two empty payloads
// count as full agreement.
func fieldMatchRate(primary, shadow map[string]any) float64 {
	if len(primary) == 0 && len(shadow) == 0 {
		return 1.0
	}
	keys := map[string]struct{}{}
	for k := range primary {
		keys[k] = struct{}{}
	}
	for k := range shadow {
		keys[k] = struct{}{}
	}
	matched := 0
	for k := range keys {
		pv, pok := primary[k]
		sv, sok := shadow[k]
		if pok && sok && reflect.DeepEqual(pv, sv) {
			matched++
		}
	}
	return float64(matched) / float64(len(keys))
}
