package pgo

var unitSigmas = Sigmas{X: 0.1, Y: 0.1, Theta: 0.05}

// odo builds an odometry constraint with the given forward step.
func odo(from, to Key, dx float64) Constraint {
	return Between(Odometry, from, to, Pose2{X: dx}, unitSigmas)
}

// lc builds a loop closure with measurement z.
func lc(from, to Key, z Pose2) Constraint {
	return Between(LoopClosure, from, to, z, unitSigmas)
}

func entry(k Key, x, y, theta float64) ValueEntry {
	return ValueEntry{Key: k, Pose: Pose2{X: x, Y: y, Theta: theta}}
}

// straightLine returns a batch of n odometry steps of 1m along x on
// trajectory prefix, starting at index start. The batch carries values for
// every pose after start, and for start itself when withStart is set.
func straightLine(prefix string, start, n int, withStart bool) Batch {
	var entries []ValueEntry
	if withStart {
		entries = append(entries, entry(Symbol(prefix, start), float64(start), 0, 0))
	}
	var g Graph
	for i := start; i < start+n; i++ {
		g = append(g, odo(Symbol(prefix, i), Symbol(prefix, i+1), 1))
		entries = append(entries, entry(Symbol(prefix, i+1), float64(i+1), 0, 0))
	}
	return Batch{Constraints: g, Values: NewValues(entries...)}
}

// allStrategies returns one fresh instance of every strategy.
func allStrategies() map[string]func() OutlierRemover {
	return map[string]func() OutlierRemover{
		StrategyPassThrough: func() OutlierRemover { return NewPassThrough(nil) },
		StrategyGate:        func() OutlierRemover { return NewDistanceGate(DefaultGateConfig(), nil) },
		StrategyPCM:         func() OutlierRemover { return NewPCM(DefaultPCMConfig(), nil) },
	}
}

// mixedBatches is a run with inliers, an outlier loop closure and a new
// variable introduced by a rejected constraint.
func mixedBatches() []Batch {
	first := straightLine("x", 0, 4, true)
	second := straightLine("x", 4, 2, false)
	second.Constraints = append(second.Constraints,
		lc("x0", "x6", Pose2{X: 6}),
		lc("x1", "x5", Pose2{X: 40, Y: -12, Theta: 2}),
	)
	third := Batch{
		Constraints: Graph{lc("x2", "x9", Pose2{X: 1, Y: 1})},
		Values:      NewValues(entry("x9", 30, 30, 0)),
	}
	return []Batch{first, {}, second, third}
}
