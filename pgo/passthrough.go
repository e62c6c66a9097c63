package pgo

// PassThrough is the reference strategy: it treats every measurement as an
// inlier, so RemoveOutliers and AddMeasurements behave identically.
type PassThrough struct {
	Base
	policy ReoptimizePolicy
}

// NewPassThrough creates a pass-through strategy. A nil policy defaults to
// ReoptimizeOnChange.
func NewPassThrough(policy ReoptimizePolicy) *PassThrough {
	if policy == nil {
		policy = ReoptimizeOnChange
	}
	return &PassThrough{Base: Base{name: StrategyPassThrough}, policy: policy}
}

// RemoveOutliers appends the whole batch.
func (p *PassThrough) RemoveOutliers(batch Batch, est *Estimate) (bool, error) {
	return p.AddMeasurements(batch, est)
}

// AddMeasurements appends the whole batch.
func (p *PassThrough) AddMeasurements(batch Batch, est *Estimate) (bool, error) {
	adm, err := admit(p.name, batch, est, acceptAll(batch), p.policy)
	if err != nil {
		return false, err
	}
	p.debugf("added %d constraints, %d new variables", len(adm.Accepted), adm.NewVariables)
	return adm.Reoptimize, nil
}
