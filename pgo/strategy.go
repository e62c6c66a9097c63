package pgo

import "fmt"

// Strategy names accepted in configuration.
const (
	StrategyPassThrough = "passthrough"
	StrategyGate        = "gate"
	StrategyPCM         = "pcm"
)

// StrategyConfig selects and configures an outlier-removal strategy.
type StrategyConfig struct {
	Name   string     `yaml:"name" json:"name"`
	Policy string     `yaml:"policy,omitempty" json:"policy,omitempty"`
	Quiet  bool       `yaml:"quiet,omitempty" json:"quiet,omitempty"`
	Gate   GateConfig `yaml:"gate,omitempty" json:"gate,omitempty"`
	PCM    PCMConfig  `yaml:"pcm,omitempty" json:"pcm,omitempty"`
}

// NewRemover builds the strategy named in the configuration. An empty name
// selects PCM.
func NewRemover(cfg StrategyConfig) (OutlierRemover, error) {
	var remover OutlierRemover
	switch cfg.Name {
	case StrategyPassThrough:
		policy, err := ParsePolicy(cfg.Policy, ReoptimizeOnChange)
		if err != nil {
			return nil, err
		}
		remover = NewPassThrough(policy)
	case StrategyGate:
		policy, err := ParsePolicy(cfg.Policy, ReoptimizeOnLoopClosure)
		if err != nil {
			return nil, err
		}
		remover = NewDistanceGate(cfg.Gate, policy)
	case StrategyPCM, "":
		policy, err := ParsePolicy(cfg.Policy, ReoptimizeOnLoopClosure)
		if err != nil {
			return nil, err
		}
		remover = NewPCM(cfg.PCM, policy)
	default:
		return nil, fmt.Errorf("unknown outlier strategy %q", cfg.Name)
	}
	if cfg.Quiet {
		remover.SetQuiet()
	}
	return remover, nil
}
