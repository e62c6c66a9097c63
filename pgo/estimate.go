package pgo

import "fmt"

// Estimate is the accumulated (accepted constraints, accepted values) pair.
// The admission strategies only ever append to it.
type Estimate struct {
	Graph  Graph  `json:"graph"`
	Values Values `json:"values"`
}

// NewEstimate returns an empty estimate.
func NewEstimate() *Estimate {
	return &Estimate{Graph: Graph{}, Values: NewValues()}
}

// Stats summarizes the size of an estimate
type Stats struct {
	Constraints  int `json:"constraints" yaml:"constraints"`
	Variables    int `json:"variables" yaml:"variables"`
	LoopClosures int `json:"loopClosures" yaml:"loopClosures"`
}

// Stats returns the current constraint and variable counts.
func (e *Estimate) Stats() Stats {
	return Stats{
		Constraints:  len(e.Graph),
		Variables:    e.Values.Len(),
		LoopClosures: e.Graph.CountType(LoopClosure),
	}
}

// Clone returns a deep copy of the estimate.
func (e *Estimate) Clone() *Estimate {
	g := make(Graph, len(e.Graph))
	for i, c := range e.Graph {
		c.Keys = append([]Key(nil), c.Keys...)
		g[i] = c
	}
	return &Estimate{Graph: g, Values: e.Values.Clone()}
}

// Covers reports whether e contains every constraint of other as a prefix
// and every variable of other. This is the monotonic-growth relation
// between an estimate and any earlier snapshot of it.
func (e *Estimate) Covers(other *Estimate) bool {
	if len(e.Graph) < len(other.Graph) {
		return false
	}
	for i, c := range other.Graph {
		if e.Graph[i].Label() != c.Label() {
			return false
		}
	}
	for _, k := range other.Values.Keys() {
		if !e.Values.Has(k) {
			return false
		}
	}
	return true
}

// Refine overwrites existing values with optimizer output. Keys that are not
// already part of the estimate are rejected: the optimizer refines, it never
// introduces variables.
func (e *Estimate) Refine(refined Values) error {
	for _, k := range refined.Keys() {
		if !e.Values.Has(k) {
			return fmt.Errorf("refined value for unknown key %q", k)
		}
	}
	for _, entry := range refined.Entries() {
		e.Values.Set(entry.Key, entry.Pose)
	}
	return nil
}

// lookup returns the pose of k from the estimate, falling back to the batch's
// initial guess for variables the batch introduces.
func lookup(k Key, est *Estimate, batch Batch) (Pose2, bool) {
	if p, ok := est.Values.Get(k); ok {
		return p, true
	}
	return batch.Values.Get(k)
}
