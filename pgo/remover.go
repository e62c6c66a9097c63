package pgo

import (
	"errors"
	"fmt"
	"log"
	"strings"
)

// OutlierRemover decides which new measurements join the accumulated estimate.
//
// Both processing calls mutate est in place and return whether the change
// warrants re-optimization. est only ever grows: previously accepted
// constraints and values are never removed or rewritten. The only error is a
// contract violation (see ErrUndefinedKey), detected before any mutation.
type OutlierRemover interface {
	// RemoveOutliers classifies the batch and appends only the inliers,
	// together with every new variable the batch introduces.
	RemoveOutliers(batch Batch, est *Estimate) (bool, error)

	// AddMeasurements appends the whole batch without classification.
	AddMeasurements(batch Batch, est *Estimate) (bool, error)

	// SaveData writes strategy diagnostics into dir.
	SaveData(dir string) error

	// SetQuiet silences diagnostic narration for the rest of the instance's
	// lifetime.
	SetQuiet()
}

// ErrUndefinedKey is returned when a batch references a variable that is
// defined neither in the estimate nor in the batch itself.
var ErrUndefinedKey = errors.New("constraint references undefined variable")

// UndefinedKeyError carries the offending constraint and key.
type UndefinedKeyError struct {
	Constraint string
	Key        Key
}

func (e *UndefinedKeyError) Error() string {
	return fmt.Sprintf("%v: %s in %s", ErrUndefinedKey, e.Key, e.Constraint)
}

func (e *UndefinedKeyError) Is(target error) bool {
	return target == ErrUndefinedKey
}

// Base provides the verbosity flag and the no-op SaveData shared by every
// strategy. The zero value is verbose.
type Base struct {
	name  string
	quiet bool
}

// SetQuiet disables verbose output. There is no way back.
func (b *Base) SetQuiet() {
	b.quiet = true
}

// Verbose reports whether diagnostic narration is enabled.
func (b *Base) Verbose() bool {
	return !b.quiet
}

// SaveData is a no-op for strategies that keep no diagnostic state.
func (b *Base) SaveData(dir string) error {
	return nil
}

// Name returns the strategy name used in logs and metrics.
func (b *Base) Name() string {
	return b.name
}

func (b *Base) debugf(format string, args ...interface{}) {
	if b.quiet {
		return
	}
	log.Printf("["+strings.ToUpper(b.name)+"] "+format, args...)
}

// validateBatch checks that every key referenced by the batch is defined
// either in the estimate or in the batch values.
func validateBatch(batch Batch, est *Estimate) error {
	for _, c := range batch.Constraints {
		for _, k := range c.Keys {
			if !est.Values.Has(k) && !batch.Values.Has(k) {
				return &UndefinedKeyError{Constraint: c.Label(), Key: k}
			}
		}
	}
	return nil
}

// Verdict is a strategy's classification of a single constraint.
type Verdict struct {
	Accept bool
	Reason RejectReason
	Score  float64
}

func accept(score float64) Verdict {
	return Verdict{Accept: true, Score: score}
}

func reject(reason RejectReason, score float64) Verdict {
	return Verdict{Reason: reason, Score: score}
}

// acceptAll returns an accepting verdict for every constraint of the batch.
func acceptAll(batch Batch) []Verdict {
	verdicts := make([]Verdict, len(batch.Constraints))
	for i := range verdicts {
		verdicts[i] = accept(0)
	}
	return verdicts
}

// Admission is the result of applying verdicts to an estimate.
type Admission struct {
	Reoptimize   bool
	Accepted     Graph
	Rejected     []Rejection
	NewVariables int
}

// admit applies verdicts to est. New batch variables are appended in batch
// order whether or not a constraint touching them was accepted; values
// already in est are left untouched. Accepted constraints are appended in
// batch order. Nothing is mutated when validation fails.
func admit(strategy string, batch Batch, est *Estimate, verdicts []Verdict, policy ReoptimizePolicy) (Admission, error) {
	if err := validateBatch(batch, est); err != nil {
		return Admission{}, err
	}
	if len(verdicts) != len(batch.Constraints) {
		return Admission{}, fmt.Errorf("%s: %d verdicts for %d constraints", strategy, len(verdicts), len(batch.Constraints))
	}

	before := est.Stats()
	var adm Admission

	for _, entry := range batch.Values.Entries() {
		if est.Values.Has(entry.Key) {
			continue
		}
		est.Values.Set(entry.Key, entry.Pose)
		adm.NewVariables++
	}

	for i, c := range batch.Constraints {
		v := verdicts[i]
		if v.Accept {
			c.Keys = append([]Key(nil), c.Keys...)
			est.Graph = append(est.Graph, c)
			adm.Accepted = append(adm.Accepted, c)
			recordConstraint(strategy, c.Type, true)
			continue
		}
		adm.Rejected = append(adm.Rejected, Rejection{Constraint: c, Reason: v.Reason, Score: v.Score})
		recordConstraint(strategy, c.Type, false)
	}

	adm.Reoptimize = policy(before, adm.Accepted)
	recordDecision(strategy, adm.Reoptimize)
	return adm, nil
}
