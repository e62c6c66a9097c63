package pgo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// RejectReason describes why a constraint was classified as an outlier.
type RejectReason string

const (
	// RejectMahalanobis indicates the residual against the current estimate
	// exceeded the gating threshold.
	RejectMahalanobis RejectReason = "mahalanobis"

	// RejectOdometry indicates the loop closure disagrees with the relative
	// pose predicted by the odometry chain between its ends.
	RejectOdometry RejectReason = "odometry"

	// RejectInconsistent indicates the loop closure disagrees with a loop
	// closure already accepted for the same trajectory pair.
	RejectInconsistent RejectReason = "inconsistent"

	// RejectNotInClique indicates the loop closure was consistent with the
	// accepted set but did not belong to the largest consistent group.
	RejectNotInClique RejectReason = "not_in_clique"

	// RejectAmbiguous indicates the constraint could not be evaluated
	// (wrong arity, non-positive sigmas, non-finite residual).
	RejectAmbiguous RejectReason = "ambiguous"
)

// Rejection records a constraint that was kept out of the estimate.
type Rejection struct {
	Constraint Constraint   `json:"constraint"`
	Reason     RejectReason `json:"reason"`
	Score      float64      `json:"score"`
	Batch      int          `json:"batch"`
}

// MarshalJSON replaces non-finite scores with null, which encoding/json
// cannot represent.
func (r Rejection) MarshalJSON() ([]byte, error) {
	type alias Rejection
	var score *float64
	if !isNaNOrInf(r.Score) {
		score = &r.Score
	}
	return json.Marshal(struct {
		alias
		Score *float64 `json:"score"`
	}{alias: alias(r), Score: score})
}

// DiagnosticsSummary is written to summary.yaml.
type DiagnosticsSummary struct {
	RunID       string                 `yaml:"runId"`
	Strategy    string                 `yaml:"strategy"`
	Batches     int                    `yaml:"batches"`
	Accepted    map[ConstraintType]int `yaml:"accepted"`
	Rejected    map[RejectReason]int   `yaml:"rejected"`
	Reoptimized int                    `yaml:"reoptimizations"`
	SavedAt     time.Time              `yaml:"savedAt"`
}

// Diagnostics accumulates per-strategy counters and the rejected-edge log.
// It is owned by one strategy instance and not safe for concurrent use.
type Diagnostics struct {
	runID    string
	strategy string
	batches  int
	reopt    int
	accepted map[ConstraintType]int
	rejected []Rejection
}

func newDiagnostics(strategy string) *Diagnostics {
	return &Diagnostics{
		runID:    uuid.NewString(),
		strategy: strategy,
		accepted: make(map[ConstraintType]int),
	}
}

// record adds one processed batch to the diagnostics.
func (d *Diagnostics) record(adm Admission) {
	d.batches++
	if adm.Reoptimize {
		d.reopt++
	}
	for _, c := range adm.Accepted {
		d.accepted[c.Type]++
	}
	for _, r := range adm.Rejected {
		r.Batch = d.batches
		d.rejected = append(d.rejected, r)
	}
}

// Rejections returns a copy of the rejected-edge log.
func (d *Diagnostics) Rejections() []Rejection {
	out := make([]Rejection, len(d.rejected))
	copy(out, d.rejected)
	return out
}

// Summary returns aggregate counters.
func (d *Diagnostics) Summary() DiagnosticsSummary {
	s := DiagnosticsSummary{
		RunID:       d.runID,
		Strategy:    d.strategy,
		Batches:     d.batches,
		Accepted:    make(map[ConstraintType]int, len(d.accepted)),
		Rejected:    make(map[RejectReason]int),
		Reoptimized: d.reopt,
	}
	for t, n := range d.accepted {
		s.Accepted[t] = n
	}
	for _, r := range d.rejected {
		s.Rejected[r.Reason]++
	}
	return s
}

// Save writes rejected.json and summary.yaml into dir. Nothing is written
// when no batch has been recorded yet.
func (d *Diagnostics) Save(dir string) error {
	if d.batches == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating diagnostics directory: %w", err)
	}

	rejected := d.Rejections()
	data, err := json.MarshalIndent(rejected, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling rejected constraints: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rejected.json"), data, 0644); err != nil {
		return fmt.Errorf("writing rejected constraints: %w", err)
	}

	summary := d.Summary()
	summary.SavedAt = time.Now().UTC()
	data, err = yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling diagnostics summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.yaml"), data, 0644); err != nil {
		return fmt.Errorf("writing diagnostics summary: %w", err)
	}
	return nil
}
