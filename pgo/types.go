package pgo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Key identifies a state variable, e.g. "x12" or "a3".
// The leading letters name the trajectory the variable belongs to.
type Key string

// Symbol builds a key from a trajectory prefix and an index, mirroring the
// usual character+index variable naming ("x" + 5 -> "x5").
func Symbol(prefix string, index int) Key {
	return Key(prefix + strconv.Itoa(index))
}

// Trajectory returns the alphabetic prefix of the key.
func (k Key) Trajectory() string {
	s := string(k)
	i := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if i == -1 {
		return s
	}
	return s[:i]
}

// ConstraintType is the logical type of a constraint
type ConstraintType string

const (
	Odometry    ConstraintType = "odometry"
	LoopClosure ConstraintType = "loop_closure"
	Prior       ConstraintType = "prior"
)

// Pose2 is a planar pose: translation in meters, heading in radians
type Pose2 struct {
	X     float64 `json:"x" yaml:"x" cbor:"x"`
	Y     float64 `json:"y" yaml:"y" cbor:"y"`
	Theta float64 `json:"theta" yaml:"theta" cbor:"theta"`
}

// Sigmas holds per-axis standard deviations of a measurement (x, y, theta).
type Sigmas struct {
	X     float64 `json:"x" cbor:"x"`
	Y     float64 `json:"y" cbor:"y"`
	Theta float64 `json:"theta" cbor:"theta"`
}

// Valid reports whether every standard deviation is strictly positive.
func (s Sigmas) Valid() bool {
	return s.X > 0 && s.Y > 0 && s.Theta > 0
}

// Constraint relates one (prior) or two (odometry, loop closure) variables.
// For two-key constraints the measurement is the pose of Keys[1] expressed
// in the frame of Keys[0].
type Constraint struct {
	ID          string         `json:"id,omitempty" cbor:"id,omitempty"`
	Type        ConstraintType `json:"type" cbor:"type"`
	Keys        []Key          `json:"keys" cbor:"keys"`
	Measurement Pose2          `json:"measurement" cbor:"measurement"`
	Sigmas      Sigmas         `json:"sigmas" cbor:"sigmas"`
}

// Between builds a two-key constraint.
func Between(t ConstraintType, from, to Key, z Pose2, sigmas Sigmas) Constraint {
	return Constraint{
		ID:          fmt.Sprintf("%s:%s-%s", t, from, to),
		Type:        t,
		Keys:        []Key{from, to},
		Measurement: z,
		Sigmas:      sigmas,
	}
}

// PriorOn builds a unary prior constraint.
func PriorOn(k Key, z Pose2, sigmas Sigmas) Constraint {
	return Constraint{
		ID:          fmt.Sprintf("%s:%s", Prior, k),
		Type:        Prior,
		Keys:        []Key{k},
		Measurement: z,
		Sigmas:      sigmas,
	}
}

// Label returns the ID or a generated description when the ID is empty.
func (c Constraint) Label() string {
	if c.ID != "" {
		return c.ID
	}
	parts := make([]string, len(c.Keys))
	for i, k := range c.Keys {
		parts[i] = string(k)
	}
	return fmt.Sprintf("%s:%s", c.Type, strings.Join(parts, "-"))
}

// Graph is an ordered list of constraints
type Graph []Constraint

// CountType returns how many constraints of type t the graph holds.
func (g Graph) CountType(t ConstraintType) int {
	n := 0
	for _, c := range g {
		if c.Type == t {
			n++
		}
	}
	return n
}

// ValueEntry is one key/pose pair in wire order.
type ValueEntry struct {
	Key  Key   `json:"key" cbor:"key"`
	Pose Pose2 `json:"pose" cbor:"pose"`
}

// Values maps variable keys to poses. Lookup is by key; iteration follows
// insertion order so replays are deterministic.
type Values struct {
	order []Key
	poses map[Key]Pose2
}

// NewValues creates a value map from entries; later duplicates overwrite
// earlier ones without changing their position.
func NewValues(entries ...ValueEntry) Values {
	v := Values{poses: make(map[Key]Pose2, len(entries))}
	for _, e := range entries {
		v.Set(e.Key, e.Pose)
	}
	return v
}

// Set inserts or overwrites a value.
func (v *Values) Set(k Key, p Pose2) {
	if v.poses == nil {
		v.poses = make(map[Key]Pose2)
	}
	if _, ok := v.poses[k]; !ok {
		v.order = append(v.order, k)
	}
	v.poses[k] = p
}

// Get returns the pose stored for k.
func (v Values) Get(k Key) (Pose2, bool) {
	p, ok := v.poses[k]
	return p, ok
}

// Has reports whether k is present.
func (v Values) Has(k Key) bool {
	_, ok := v.poses[k]
	return ok
}

// Len returns the number of values.
func (v Values) Len() int {
	return len(v.order)
}

// Keys returns keys in insertion order.
func (v Values) Keys() []Key {
	out := make([]Key, len(v.order))
	copy(out, v.order)
	return out
}

// Entries returns the values in insertion order.
func (v Values) Entries() []ValueEntry {
	out := make([]ValueEntry, len(v.order))
	for i, k := range v.order {
		out[i] = ValueEntry{Key: k, Pose: v.poses[k]}
	}
	return out
}

// Clone returns a deep copy.
func (v Values) Clone() Values {
	return NewValues(v.Entries()...)
}

// MarshalJSON encodes values as an ordered list of entries.
func (v Values) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Entries())
}

// UnmarshalJSON decodes an ordered list of entries.
func (v *Values) UnmarshalJSON(data []byte) error {
	var entries []ValueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*v = NewValues(entries...)
	return nil
}

// Batch is one cycle's worth of new constraints plus initial values for the
// variables they introduce. A batch is never modified by processing.
type Batch struct {
	Constraints Graph  `json:"constraints"`
	Values      Values `json:"values"`
	// Force routes the batch through AddMeasurements (operator-verified data).
	Force bool `json:"force,omitempty"`
}

// Empty reports whether the batch carries neither constraints nor values.
func (b Batch) Empty() bool {
	return len(b.Constraints) == 0 && b.Values.Len() == 0
}
