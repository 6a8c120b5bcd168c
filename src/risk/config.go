package risk

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the risk and sizing configuration shared by the pick pipeline.
// Out-of-range values are clamped by Clamp, never silently ignored.
type Config struct {
	Mode                string  `envconfig:"RISK_MODE" default:""` // conservative | balanced | aggressive
	PresetsFile         string  `envconfig:"RISK_PRESETS_FILE" default:""`
	RiskPct             float64 `envconfig:"RISK_PCT" default:"1.0"`
	ATRStopMult         float64 `envconfig:"ATR_STOP_MULT" default:"2.5"`
	ATRTargetMult       float64 `envconfig:"ATR_TARGET_MULT" default:"3.5"`
	MinRewardRisk       float64 `envconfig:"MIN_REWARD_RISK" default:"1.6"`
	MaxGrossExposurePct float64 `envconfig:"MAX_GROSS_EXPOSURE_PCT" default:"70"`
	MaxOpenPositions    int     `envconfig:"MAX_OPEN_POSITIONS" default:"3"`
	EnsembleWindow      int     `envconfig:"ENSEMBLE_WINDOW" default:"300"`
	ConfidenceWindow    int     `envconfig:"CONFIDENCE_WINDOW" default:"800"`
	// SignalThreshold is the |blend| a symbol needs to get a side. Set it to 1
	// to only trade when every weighted model agrees.
	SignalThreshold     float64 `envconfig:"SIGNAL_THRESHOLD" default:"0.5"`
}

func DefaultConfig() Config {
	return Config{
		RiskPct:             1.0,
		ATRStopMult:         DefaultStopMult,
		ATRTargetMult:       DefaultTargetMult,
		MinRewardRisk:       1.6,
		MaxGrossExposurePct: 70,
		MaxOpenPositions:    3,
		EnsembleWindow:      300,
		ConfidenceWindow:    800,
		SignalThreshold:     0.5,
	}
}

// GetConfig loads the configuration from the environment, applies the
// selected preset and clamps every field into its bounds.
func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	if config.Mode != "" {
		presets := DefaultPresets()
		if config.PresetsFile != "" {
			loaded, err := LoadPresets(config.PresetsFile)
			if err != nil {
				panic(fmt.Errorf("error loading risk presets: %w", err))
			}
			presets = loaded
		}
		applied, err := config.WithPreset(presets, config.Mode)
		if err != nil {
			panic(err)
		}
		config = applied
	}
	return config.Clamp()
}

type floatBound struct {
	name     string
	value    *float64
	min, max float64
}

type intBound struct {
	name     string
	value    *int
	min, max int
}

// Clamp returns a copy with every field forced into its bounds. Each adjusted
// field is logged at warn level.
func (c Config) Clamp() Config {
	floats := []floatBound{
		{"risk_pct", &c.RiskPct, 0.01, 10},
		{"atr_stop_mult", &c.ATRStopMult, 0.1, 10},
		{"atr_target_mult", &c.ATRTargetMult, 0.1, 20},
		{"min_reward_risk", &c.MinRewardRisk, 0, 10},
		{"max_gross_exposure_pct", &c.MaxGrossExposurePct, 0, 100},
		{"signal_threshold", &c.SignalThreshold, 0, 1},
	}
	for _, b := range floats {
		original := *b.value
		switch {
		case math.IsNaN(original):
			*b.value = b.min
		case original < b.min:
			*b.value = b.min
		case original > b.max:
			*b.value = b.max
		default:
			continue
		}
		logger.WithFields(map[string]interface{}{
			"field":    b.name,
			"original": original,
			"adjusted": *b.value,
		}).Warn("Risk setting out of range, clamped")
	}

	ints := []intBound{
		{"max_open_positions", &c.MaxOpenPositions, 1, 50},
		{"ensemble_window", &c.EnsembleWindow, 50, 5000},
		{"confidence_window", &c.ConfidenceWindow, 100, 10000},
	}
	for _, b := range ints {
		original := *b.value
		switch {
		case original < b.min:
			*b.value = b.min
		case original > b.max:
			*b.value = b.max
		default:
			continue
		}
		logger.WithFields(map[string]interface{}{
			"field":    b.name,
			"original": original,
			"adjusted": *b.value,
		}).Warn("Risk setting out of range, clamped")
	}
	return c
}

// Preset is a named bundle of sizing settings.
type Preset struct {
	RiskPct             float64 `yaml:"risk_pct"`
	MaxGrossExposurePct float64 `yaml:"max_gross_exposure_pct"`
	MinRewardRisk       float64 `yaml:"min_reward_risk"`
	MaxOpenPositions    int     `yaml:"max_open_positions"`
}

const (
	ModeConservative = "conservative"
	ModeBalanced     = "balanced"
	ModeAggressive   = "aggressive"
)

func DefaultPresets() map[string]Preset {
	return map[string]Preset{
		ModeConservative: {RiskPct: 0.5, MaxGrossExposurePct: 40, MinRewardRisk: 1.5, MaxOpenPositions: 2},
		ModeBalanced:     {RiskPct: 1.0, MaxGrossExposurePct: 70, MinRewardRisk: 1.6, MaxOpenPositions: 3},
		ModeAggressive:   {RiskPct: 2.0, MaxGrossExposurePct: 100, MinRewardRisk: 1.8, MaxOpenPositions: 5},
	}
}

// WithPreset overwrites the preset-controlled fields with the named preset.
func (c Config) WithPreset(presets map[string]Preset, mode string) (Config, error) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(mode))]
	if !ok {
		return c, fmt.Errorf("unknown risk mode %q", mode)
	}
	c.Mode = mode
	c.RiskPct = p.RiskPct
	c.MaxGrossExposurePct = p.MaxGrossExposurePct
	c.MinRewardRisk = p.MinRewardRisk
	c.MaxOpenPositions = p.MaxOpenPositions
	return c, nil
}

// LoadPresets reads presets from a YAML file keyed by mode name:
//
//	balanced:
//	  risk_pct: 1.0
//	  max_gross_exposure_pct: 70
//	  min_reward_risk: 1.6
//	  max_open_positions: 3
func LoadPresets(path string) (map[string]Preset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets %s: %w", path, err)
	}
	return ParsePresets(raw)
}

func ParsePresets(raw []byte) (map[string]Preset, error) {
	var parsed map[string]Preset
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	out := make(map[string]Preset, len(parsed))
	for name, p := range parsed {
		out[strings.ToLower(strings.TrimSpace(name))] = p
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("presets file defines no modes")
	}
	return out, nil
}
