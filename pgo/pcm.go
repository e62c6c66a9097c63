package pgo

import (
	"math"
	"sort"
)

// PCMConfig holds the thresholds of pairwise consistency maximization.
type PCMConfig struct {
	// OdomThreshold is the maximum squared Mahalanobis distance between a
	// loop closure and the relative pose the odometry chain predicts.
	OdomThreshold float64 `yaml:"odomThreshold" json:"odomThreshold"`

	// Threshold is the maximum squared Mahalanobis norm of the cycle formed
	// by two loop closures and the odometry estimates between their ends.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// MinClique is the smallest group of mutually consistent new loop
	// closures that may be admitted. Default: 1.
	MinClique int `yaml:"minClique" json:"minClique"`
}

// DefaultPCMConfig returns sensible defaults.
func DefaultPCMConfig() PCMConfig {
	return PCMConfig{OdomThreshold: DefaultGateThreshold, Threshold: DefaultGateThreshold, MinClique: 1}
}

// PCM admits loop closures that agree with odometry and are pairwise
// consistent with every loop closure already accepted for the same
// trajectory pair, and among the new candidates keeps the largest mutually
// consistent group. Odometry and priors are trusted.
//
// Accepted loop closures are never revisited: they anchor every later
// decision for their trajectory pair.
type PCM struct {
	Base
	config PCMConfig
	policy ReoptimizePolicy
	diag   *Diagnostics
}

// NewPCM creates a pairwise-consistency strategy. A nil policy defaults to
// ReoptimizeOnLoopClosure.
func NewPCM(config PCMConfig, policy ReoptimizePolicy) *PCM {
	if config.OdomThreshold <= 0 {
		config.OdomThreshold = DefaultGateThreshold
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultGateThreshold
	}
	if config.MinClique < 1 {
		config.MinClique = 1
	}
	if policy == nil {
		policy = ReoptimizeOnLoopClosure
	}
	return &PCM{
		Base:   Base{name: StrategyPCM},
		config: config,
		policy: policy,
		diag:   newDiagnostics(StrategyPCM),
	}
}

// RemoveOutliers classifies new loop closures group by group.
func (p *PCM) RemoveOutliers(batch Batch, est *Estimate) (bool, error) {
	if err := validateBatch(batch, est); err != nil {
		return false, err
	}

	verdicts := make([]Verdict, len(batch.Constraints))
	groups := make(map[string][]int)
	var groupOrder []string

	for i, c := range batch.Constraints {
		switch {
		case c.Type == Odometry && len(c.Keys) == 2, c.Type == Prior && len(c.Keys) == 1:
			verdicts[i] = accept(0)
			continue
		case c.Type == Odometry, c.Type == Prior, len(c.Keys) != 2, !c.Sigmas.Valid():
			verdicts[i] = reject(RejectAmbiguous, nanScore)
			continue
		}
		d2, ok := residual(c, est, batch)
		if !ok {
			verdicts[i] = reject(RejectAmbiguous, d2)
			continue
		}
		if d2 > p.config.OdomThreshold {
			verdicts[i] = reject(RejectOdometry, d2)
			continue
		}
		g := trajectoryPair(c)
		if _, ok := groups[g]; !ok {
			groupOrder = append(groupOrder, g)
		}
		groups[g] = append(groups[g], i)
	}

	for _, g := range groupOrder {
		p.classifyGroup(g, groups[g], batch, est, verdicts)
	}

	adm, err := admit(p.name, batch, est, verdicts, p.policy)
	if err != nil {
		return false, err
	}
	p.diag.record(adm)
	for _, r := range adm.Rejected {
		p.debugf("rejected %s (%s, score=%.2f)", r.Constraint.Label(), r.Reason, r.Score)
	}
	p.debugf("accepted %d/%d constraints, %d new variables, reoptimize=%v",
		len(adm.Accepted), len(batch.Constraints), adm.NewVariables, adm.Reoptimize)
	return adm.Reoptimize, nil
}

// AddMeasurements appends the whole batch without consistency checks.
func (p *PCM) AddMeasurements(batch Batch, est *Estimate) (bool, error) {
	adm, err := admit(p.name, batch, est, acceptAll(batch), p.policy)
	if err != nil {
		return false, err
	}
	p.diag.record(adm)
	p.debugf("forced %d constraints, %d new variables", len(adm.Accepted), adm.NewVariables)
	return adm.Reoptimize, nil
}

// SaveData writes the rejected-edge log and summary.
func (p *PCM) SaveData(dir string) error {
	return p.diag.Save(dir)
}

// Diagnostics exposes the strategy's counters.
func (p *PCM) Diagnostics() *Diagnostics {
	return p.diag
}

func (p *PCM) classifyGroup(group string, candidates []int, batch Batch, est *Estimate, verdicts []Verdict) {
	var anchors []Constraint
	for _, c := range est.Graph {
		if c.Type == LoopClosure && len(c.Keys) == 2 && trajectoryPair(c) == group {
			anchors = append(anchors, c)
		}
	}

	// Candidates must agree with every accepted loop closure of the group.
	var admissible []int
	for _, i := range candidates {
		c := batch.Constraints[i]
		worst := 0.0
		ok := true
		for _, a := range anchors {
			d2 := pairConsistency(c, a, est, batch)
			if isNaNOrInf(d2) || d2 > p.config.Threshold {
				worst = d2
				ok = false
				break
			}
			worst = math.Max(worst, d2)
		}
		if !ok {
			verdicts[i] = reject(RejectInconsistent, worst)
			continue
		}
		verdicts[i] = accept(worst)
		admissible = append(admissible, i)
	}
	if len(admissible) == 0 {
		return
	}

	n := len(admissible)
	adj := make([][]bool, n)
	for a := range adj {
		adj[a] = make([]bool, n)
	}
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			d2 := pairConsistency(batch.Constraints[admissible[a]], batch.Constraints[admissible[b]], est, batch)
			if !isNaNOrInf(d2) && d2 <= p.config.Threshold {
				adj[a][b] = true
				adj[b][a] = true
			}
		}
	}

	clique := maxClique(adj)
	inClique := make(map[int]bool, len(clique))
	if len(clique) >= p.config.MinClique {
		for _, v := range clique {
			inClique[v] = true
		}
	}
	for v, i := range admissible {
		if !inClique[v] {
			verdicts[i] = reject(RejectNotInClique, float64(len(clique)))
		}
	}
	p.debugf("group %s: %d candidates, %d anchors, clique of %d", group, len(candidates), len(anchors), len(clique))
}

// trajectoryPair identifies the pair of trajectories a loop closure connects,
// independent of direction.
func trajectoryPair(c Constraint) string {
	a, b := c.Keys[0].Trajectory(), c.Keys[1].Trajectory()
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// pairConsistency returns the squared Mahalanobis norm of the cycle
// zi ⊕ (xb⁻¹ xd) ⊕ zj⁻¹ ⊕ (xc⁻¹ xa), which is the identity when both loop
// closures agree with the current odometry estimates.
func pairConsistency(ci, cj Constraint, est *Estimate, batch Batch) float64 {
	xa, okA := lookup(ci.Keys[0], est, batch)
	xb, okB := lookup(ci.Keys[1], est, batch)
	xc, okC := lookup(cj.Keys[0], est, batch)
	xd, okD := lookup(cj.Keys[1], est, batch)
	if !okA || !okB || !okC || !okD {
		return nanScore
	}
	cycle := Compose(ci.Measurement, Relative(xb, xd))
	cycle = Compose(cycle, Inverse(cj.Measurement))
	cycle = Compose(cycle, Relative(xc, xa))
	return Mahalanobis(cycle, combineSigmas(ci.Sigmas, cj.Sigmas))
}

// maxClique returns the vertices of a maximum clique of the graph given by
// adj, using Bron–Kerbosch with pivoting. Among maximum cliques of equal size
// the lexicographically smallest vertex list wins, so lower indices are
// preferred and the result is deterministic.
func maxClique(adj [][]bool) []int {
	n := len(adj)
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	var best []int
	var expand func(r, p, x []int)
	expand = func(r, p, x []int) {
		if len(p) == 0 && len(x) == 0 {
			found := append([]int(nil), r...)
			sort.Ints(found)
			if best == nil || len(found) > len(best) || (len(found) == len(best) && lexLess(found, best)) {
				best = found
			}
			return
		}
		if len(r)+len(p) < len(best) {
			return
		}
		pivot := choosePivot(adj, p, x)
		for _, v := range append([]int(nil), p...) {
			if pivot >= 0 && adj[pivot][v] {
				continue
			}
			expand(append(append([]int(nil), r...), v), neighbors(adj, v, p), neighbors(adj, v, x))
			p = remove(p, v)
			x = append(x, v)
		}
	}
	expand(nil, p, nil)
	return best
}

func lexLess(a, b []int) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func choosePivot(adj [][]bool, p, x []int) int {
	pivot, most := -1, -1
	for _, set := range [][]int{p, x} {
		for _, u := range set {
			count := 0
			for _, v := range p {
				if adj[u][v] {
					count++
				}
			}
			if count > most {
				pivot, most = u, count
			}
		}
	}
	return pivot
}

func neighbors(adj [][]bool, v int, set []int) []int {
	var out []int
	for _, u := range set {
		if adj[v][u] {
			out = append(out, u)
		}
	}
	return out
}

func remove(set []int, v int) []int {
	out := make([]int, 0, len(set))
	for _, u := range set {
		if u != v {
			out = append(out, u)
		}
	}
	return out
}
