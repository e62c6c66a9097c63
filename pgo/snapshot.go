package pgo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultEstimateFile is the file name used for estimate snapshots
const DefaultEstimateFile = "estimate.json"

// SaveEstimate writes an estimate snapshot as JSON
func SaveEstimate(path string, est *Estimate) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(est, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling estimate: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing estimate: %w", err)
	}
	return nil
}

// LoadEstimate reads an estimate snapshot written by SaveEstimate
func LoadEstimate(path string) (*Estimate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading estimate: %w", err)
	}

	est := NewEstimate()
	if err := json.Unmarshal(data, est); err != nil {
		return nil, fmt.Errorf("parsing estimate: %w", err)
	}
	if est.Graph == nil {
		est.Graph = Graph{}
	}
	return est, nil
}
