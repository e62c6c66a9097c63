package pgo

import "fmt"

// ReoptimizePolicy decides whether an admission warrants re-optimization,
// given the estimate size before the call and the constraints accepted by it.
// Variables added without an accepted constraint never count as a change.
type ReoptimizePolicy func(before Stats, accepted Graph) bool

// ReoptimizeOnChange requests optimization whenever a constraint was accepted.
func ReoptimizeOnChange(before Stats, accepted Graph) bool {
	return len(accepted) > 0
}

// ReoptimizeOnLoopClosure requests optimization when a loop closure or prior
// was accepted, or on the first insertion into an empty graph. Pure odometry
// appended to an existing graph does not trigger it.
func ReoptimizeOnLoopClosure(before Stats, accepted Graph) bool {
	if len(accepted) == 0 {
		return false
	}
	if before.Constraints == 0 {
		return true
	}
	for _, c := range accepted {
		if c.Type != Odometry {
			return true
		}
	}
	return false
}

// Policy names accepted in configuration.
const (
	PolicyChange      = "change"
	PolicyLoopClosure = "loop_closure"
)

// ParsePolicy resolves a policy name. An empty name yields fallback.
func ParsePolicy(name string, fallback ReoptimizePolicy) (ReoptimizePolicy, error) {
	switch name {
	case "":
		return fallback, nil
	case PolicyChange:
		return ReoptimizeOnChange, nil
	case PolicyLoopClosure:
		return ReoptimizeOnLoopClosure, nil
	default:
		return nil, fmt.Errorf("unknown reoptimize policy %q", name)
	}
}
