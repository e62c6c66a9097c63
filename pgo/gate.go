package pgo

// DefaultGateThreshold is the chi-square value for 3 degrees of freedom at
// the 99% level.
const DefaultGateThreshold = 11.34

// GateConfig holds the thresholds of the distance gate.
type GateConfig struct {
	// Threshold is the maximum squared Mahalanobis distance between a
	// measurement and the prediction from current values.
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{Threshold: DefaultGateThreshold}
}

// DistanceGate accepts odometry unconditionally and gates loop closures and
// priors on their Mahalanobis distance to the current estimate.
type DistanceGate struct {
	Base
	config GateConfig
	policy ReoptimizePolicy
	diag   *Diagnostics
}

// NewDistanceGate creates a gating strategy. A nil policy defaults to
// ReoptimizeOnLoopClosure.
func NewDistanceGate(config GateConfig, policy ReoptimizePolicy) *DistanceGate {
	if config.Threshold <= 0 {
		config.Threshold = DefaultGateThreshold
	}
	if policy == nil {
		policy = ReoptimizeOnLoopClosure
	}
	return &DistanceGate{
		Base:   Base{name: StrategyGate},
		config: config,
		policy: policy,
		diag:   newDiagnostics(StrategyGate),
	}
}

// RemoveOutliers gates each loop closure and prior independently.
func (g *DistanceGate) RemoveOutliers(batch Batch, est *Estimate) (bool, error) {
	if err := validateBatch(batch, est); err != nil {
		return false, err
	}
	verdicts := make([]Verdict, len(batch.Constraints))
	for i, c := range batch.Constraints {
		verdicts[i] = g.classify(c, est, batch)
	}
	return g.apply(batch, est, verdicts)
}

// AddMeasurements appends the whole batch without gating.
func (g *DistanceGate) AddMeasurements(batch Batch, est *Estimate) (bool, error) {
	return g.apply(batch, est, acceptAll(batch))
}

// SaveData writes the rejected-edge log and summary.
func (g *DistanceGate) SaveData(dir string) error {
	return g.diag.Save(dir)
}

// Diagnostics exposes the gate's counters.
func (g *DistanceGate) Diagnostics() *Diagnostics {
	return g.diag
}

func (g *DistanceGate) apply(batch Batch, est *Estimate, verdicts []Verdict) (bool, error) {
	adm, err := admit(g.name, batch, est, verdicts, g.policy)
	if err != nil {
		return false, err
	}
	g.diag.record(adm)
	for _, r := range adm.Rejected {
		g.debugf("rejected %s (%s, d²=%.2f)", r.Constraint.Label(), r.Reason, r.Score)
	}
	g.debugf("accepted %d/%d constraints, %d new variables, reoptimize=%v",
		len(adm.Accepted), len(batch.Constraints), adm.NewVariables, adm.Reoptimize)
	return adm.Reoptimize, nil
}

func (g *DistanceGate) classify(c Constraint, est *Estimate, batch Batch) Verdict {
	if c.Type == Odometry {
		if len(c.Keys) != 2 {
			return reject(RejectAmbiguous, nanScore)
		}
		return accept(0)
	}
	d2, ok := residual(c, est, batch)
	if !ok {
		return reject(RejectAmbiguous, d2)
	}
	if d2 > g.config.Threshold {
		return reject(RejectMahalanobis, d2)
	}
	return accept(d2)
}

// residual returns the squared Mahalanobis distance between a constraint's
// measurement and the prediction from current values. ok is false when the
// constraint cannot be evaluated.
func residual(c Constraint, est *Estimate, batch Batch) (float64, bool) {
	if !c.Sigmas.Valid() {
		return nanScore, false
	}
	var predicted Pose2
	switch len(c.Keys) {
	case 1:
		p, ok := lookup(c.Keys[0], est, batch)
		if !ok {
			return nanScore, false
		}
		predicted = p
	case 2:
		a, okA := lookup(c.Keys[0], est, batch)
		b, okB := lookup(c.Keys[1], est, batch)
		if !okA || !okB {
			return nanScore, false
		}
		predicted = Relative(a, b)
	default:
		return nanScore, false
	}
	d2 := Mahalanobis(Relative(c.Measurement, predicted), c.Sigmas)
	if isNaNOrInf(d2) {
		return d2, false
	}
	return d2, true
}
