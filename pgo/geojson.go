package pgo

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// Trajectory is the ordered chain of poses sharing a key prefix.
type Trajectory struct {
	Name  string
	Keys  []Key
	Poses []Pose2
}

// LineString returns the trajectory positions as an orb.LineString.
func (t Trajectory) LineString() orb.LineString {
	ls := make(orb.LineString, len(t.Poses))
	for i, p := range t.Poses {
		ls[i] = orb.Point{p.X, p.Y}
	}
	return ls
}

// Trajectories groups the estimate's values by trajectory prefix, keeping
// insertion order within each group. Groups are sorted by name.
func Trajectories(est *Estimate) []Trajectory {
	byName := make(map[string]*Trajectory)
	for _, e := range est.Values.Entries() {
		name := e.Key.Trajectory()
		t, ok := byName[name]
		if !ok {
			t = &Trajectory{Name: name}
			byName[name] = t
		}
		t.Keys = append(t.Keys, e.Key)
		t.Poses = append(t.Poses, e.Pose)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Trajectory, len(names))
	for i, name := range names {
		out[i] = *byName[name]
	}
	return out
}

// EstimateBound returns the bounding box of every value in the estimate.
// ok is false for an empty estimate.
func EstimateBound(est *Estimate) (orb.Bound, bool) {
	var b orb.Bound
	first := true
	for _, e := range est.Values.Entries() {
		p := orb.Point{e.Pose.X, e.Pose.Y}
		if first {
			b = p.Bound()
			first = false
			continue
		}
		b = b.Extend(p)
	}
	return b, !first
}

// GeoJSONOptions controls trajectory export.
type GeoJSONOptions struct {
	// Simplify is the Douglas-Peucker tolerance in meters; 0 keeps every pose.
	Simplify float64
	// IncludeRejected adds rejected loop closures whose endpoints are known.
	IncludeRejected bool
}

// EstimateToGeoJSON exports trajectories and loop closures as a GeoJSON
// FeatureCollection in the estimate's planar frame.
func EstimateToGeoJSON(est *Estimate, rejected []Rejection, opts GeoJSONOptions) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, t := range Trajectories(est) {
		ls := t.LineString()
		length := planar.Length(ls)
		if opts.Simplify > 0 && len(ls) > 2 {
			if s, ok := simplify.DouglasPeucker(opts.Simplify).Simplify(ls.Clone()).(orb.LineString); ok {
				ls = s
			}
		}

		var f *geojson.Feature
		if len(ls) == 1 {
			f = geojson.NewFeature(ls[0])
		} else {
			f = geojson.NewFeature(ls)
		}
		f.ID = "trajectory:" + t.Name
		f.Properties["kind"] = "trajectory"
		f.Properties["trajectory"] = t.Name
		f.Properties["poses"] = len(t.Poses)
		f.Properties["length"] = length
		fc.Append(f)
	}

	for _, c := range est.Graph {
		if c.Type != LoopClosure {
			continue
		}
		if f := loopClosureFeature(c, est); f != nil {
			f.Properties["accepted"] = true
			fc.Append(f)
		}
	}

	if opts.IncludeRejected {
		for _, r := range rejected {
			if r.Constraint.Type != LoopClosure {
				continue
			}
			if f := loopClosureFeature(r.Constraint, est); f != nil {
				f.Properties["accepted"] = false
				f.Properties["reason"] = string(r.Reason)
				f.Properties["batch"] = r.Batch
				fc.Append(f)
			}
		}
	}

	return fc
}

func loopClosureFeature(c Constraint, est *Estimate) *geojson.Feature {
	if len(c.Keys) != 2 {
		return nil
	}
	a, okA := est.Values.Get(c.Keys[0])
	b, okB := est.Values.Get(c.Keys[1])
	if !okA || !okB {
		return nil
	}
	f := geojson.NewFeature(orb.LineString{{a.X, a.Y}, {b.X, b.Y}})
	f.ID = c.Label()
	f.Properties["kind"] = "loop_closure"
	f.Properties["from"] = string(c.Keys[0])
	f.Properties["to"] = string(c.Keys[1])
	return f
}

// MarshalEstimateGeoJSON is a convenience wrapper returning indented JSON.
func MarshalEstimateGeoJSON(est *Estimate, rejected []Rejection, opts GeoJSONOptions) ([]byte, error) {
	fc := EstimateToGeoJSON(est, rejected, opts)
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling GeoJSON: %w", err)
	}
	return data, nil
}
