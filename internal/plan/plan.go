// Package plan loads YAML run plans and executes their steps in order.
package plan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/buckleypaul/cellcycle/internal/channel"
	"github.com/buckleypaul/cellcycle/internal/cycle"
	"github.com/buckleypaul/cellcycle/internal/sample"
)

// Step types.
const (
	StepCharge  = "charge"
	StepMeasure = "measure"
	StepClear   = "clear"
	StepReset   = "reset"
	StepCommand = "command"
	StepWait    = "wait"
)

// Plan is an ordered list of steps.
type Plan struct {
	Name        string `yaml:"name"`
	StopOnFail  bool   `yaml:"stop_on_fail"`
	SetupPolicy string `yaml:"setup_policy"`
	Steps       []Step `yaml:"steps"`

	setupPolicy cycle.SetupPolicy
}

// Step is one entry of a plan. Which fields apply depends on Type.
type Step struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`

	Cells    string        `yaml:"cells"`
	Channels int           `yaml:"channels"`
	Voltage  float64       `yaml:"voltage"`
	Current  float64       `yaml:"current"`
	Duration time.Duration `yaml:"duration"`
	Samples  int           `yaml:"samples"`
	Interval time.Duration `yaml:"interval"`
	Measure  string        `yaml:"measure"`
	Sequence int           `yaml:"sequence"`

	Setup      *bool  `yaml:"setup"`
	ResetAfter *bool  `yaml:"reset_after"`
	Export     bool   `yaml:"export"`
	ExportPath string `yaml:"export_path"`

	// Command is the raw line sent by a command step. A line containing
	// '?' is sent as a query and its response logged.
	Command string `yaml:"command"`

	// Children run as child actions of a charge or measure step, after
	// output is enabled. Only command and wait steps may appear here.
	Children []Step `yaml:"children"`

	measurement sample.Measurement
}

// Label returns the step name, or its type when unnamed.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes and validates a plan document.
func Parse(raw []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	policy, err := cycle.ParseSetupPolicy(p.SetupPolicy)
	if err != nil {
		return err
	}
	p.setupPolicy = policy

	for i := range p.Steps {
		if err := p.Steps[i].validate(false); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, p.Steps[i].Label(), err)
		}
	}
	return nil
}

func (s *Step) validate(child bool) error {
	switch s.Type {
	case StepCharge, StepMeasure:
		if child {
			return fmt.Errorf("%s step cannot be a child", s.Type)
		}
		if _, err := channel.NewGroup(s.Cells); err != nil {
			return fmt.Errorf("cells: %w", err)
		}
		m, err := sample.ParseMeasurement(s.Measure)
		if err != nil {
			return err
		}
		s.measurement = m
	case StepClear, StepReset:
		if child {
			return fmt.Errorf("%s step cannot be a child", s.Type)
		}
	case StepCommand:
		if s.Command == "" {
			return fmt.Errorf("command is required")
		}
	case StepWait:
		if s.Duration <= 0 {
			return fmt.Errorf("duration must be positive")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}

	if s.Type == StepCharge {
		if s.Voltage <= 0 || s.Current <= 0 {
			return fmt.Errorf("voltage and current must be positive")
		}
		if s.Duration <= 0 {
			return fmt.Errorf("duration must be positive")
		}
	}
	if s.Type == StepMeasure && (s.Samples < 0 || s.Interval < 0 || s.Duration < 0) {
		return fmt.Errorf("samples, interval and duration must not be negative")
	}

	if len(s.Children) > 0 && s.Type != StepCharge && s.Type != StepMeasure {
		return fmt.Errorf("%s step cannot have children", s.Type)
	}
	for i := range s.Children {
		if err := s.Children[i].validate(true); err != nil {
			return fmt.Errorf("child %d (%s): %w", i+1, s.Children[i].Label(), err)
		}
	}
	return nil
}

// config translates a charge or measure step into a run configuration.
func (s Step) config(policy cycle.SetupPolicy) cycle.Config {
	var cfg cycle.Config
	if s.Type == StepCharge {
		cfg = cycle.ChargeConfig(s.Cells, s.Voltage, s.Current, s.Duration)
		cfg.Measure = s.measurement
		cfg.Charge.Sequence = s.Sequence
	} else {
		interval := s.Interval
		if interval == 0 {
			interval = cycle.DefaultTickInterval
		}
		cfg = cycle.MeasureConfig(s.Cells, s.Samples, interval, s.measurement)
		if s.Samples == 0 && s.Duration > 0 {
			cfg.Mode = cycle.TimeBounded(s.Duration)
			cfg.TickInterval = interval
		}
	}
	cfg.Channels = s.Channels
	cfg.SetupPolicy = policy
	if s.Setup != nil {
		cfg.Setup = *s.Setup
	}
	if s.ResetAfter != nil {
		cfg.ResetAfter = *s.ResetAfter
	}
	return cfg
}
