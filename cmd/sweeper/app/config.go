package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JarrettLiner/pa-sweep/internal/bench"
	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

// TimeDuration is a time.Duration that (un)marshals as a YAML duration
// string, e.g. "10s" or "2m30s"
type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the sweeper's YAML configuration
type Config struct {
	Settings    Settings      `yaml:"settings"`
	Bench       BenchConfig   `yaml:"bench"`
	Sweep       SweepConfig   `yaml:"sweep"`
	Servo       ServoConfig   `yaml:"servo"`
	DPD         DPDConfig     `yaml:"dpd"`
	ET          ETConfig      `yaml:"envelope_tracking"`
	Calibration string        `yaml:"calibration"`
	Storage     StorageConfig `yaml:"storage"`
	Comment     string        `yaml:"comment"`
}

// Settings holds global application settings
type Settings struct {
	LogLevelName string `yaml:"log_level"`
}

// LogLevel maps the configured level name onto a slog level, defaulting
// to Info
func (s Settings) LogLevel() slog.Level {
	switch strings.ToLower(s.LogLevelName) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BenchConfig holds the instrument addresses, timeouts and the test
// signal selection
type BenchConfig struct {
	Generator       string             `yaml:"generator"`
	Analyzer        string             `yaml:"analyzer"`
	Sensor          string             `yaml:"sensor"`
	Timeout         TimeDuration       `yaml:"timeout"`
	TrainingTimeout TimeDuration       `yaml:"training_timeout"`
	Signal          bench.SignalConfig `yaml:"signal"`
	PowerOff        bool               `yaml:"power_off"`
}

// SweepConfig holds the frequency range
type SweepConfig struct {
	StartHz float64 `yaml:"start_hz"`
	StopHz  float64 `yaml:"stop_hz"`
	StepHz  float64 `yaml:"step_hz"`
}

// ServoConfig holds the power leveling target and the variants to run
type ServoConfig struct {
	TargetOutput  float64 `yaml:"target_output_dbm"`
	Tolerance     float64 `yaml:"tolerance_db"`
	ExpectedGain  float64 `yaml:"expected_gain_db"`
	MaxIterations int     `yaml:"max_iterations"`
	External      bool    `yaml:"external"`
	Internal      bool    `yaml:"internal"`
}

// DPDConfig selects the correction modes; baseline always runs
type DPDConfig struct {
	Polynomial   bool `yaml:"polynomial"`
	Direct       bool `yaml:"direct"`
	GMP          bool `yaml:"gmp"`
	Iterations   int  `yaml:"iterations"`
	GMPLagOrder  int  `yaml:"gmp_lag_order"`
	GMPLeadOrder int  `yaml:"gmp_lead_order"`
}

// ETConfig holds the envelope delay sweep parameters
type ETConfig struct {
	Enabled bool    `yaml:"enabled"`
	Start   float64 `yaml:"start_s"`
	Step    float64 `yaml:"step_s"`
	Shifts  int     `yaml:"shifts"`
}

// StorageConfig holds the session database location
type StorageConfig struct {
	DataDirectory string `yaml:"data_directory"`
}

// LoadConfig reads, parses and validates a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate delegates to the sweep and bench validators, which wrap
// their findings in sweep.ErrConfiguration
func (c *Config) Validate() error {
	if c.Calibration == "" {
		return fmt.Errorf("%w: calibration table path is required", sweep.ErrConfiguration)
	}
	if err := c.BenchConfig().Validate(); err != nil {
		return err
	}
	return c.SweepConfig().Validate()
}

// SweepConfig maps the YAML blocks onto the sweep driver configuration
func (c *Config) SweepConfig() sweep.Config {
	return sweep.Config{
		StartHz: c.Sweep.StartHz,
		StopHz:  c.Sweep.StopHz,
		StepHz:  c.Sweep.StepHz,

		Target: sweep.ServoTarget{
			TargetOutput:  c.Servo.TargetOutput,
			Tolerance:     c.Servo.Tolerance,
			ExpectedGain:  c.Servo.ExpectedGain,
			MaxIterations: c.Servo.MaxIterations,
		},

		ExternalServo: c.Servo.External,
		InternalServo: c.Servo.Internal,

		Polynomial: c.DPD.Polynomial,
		Direct:     c.DPD.Direct,
		GMP:        c.DPD.GMP,

		DPDIterations: c.DPD.Iterations,
		GMPLagOrder:   c.DPD.GMPLagOrder,
		GMPLeadOrder:  c.DPD.GMPLeadOrder,

		ET:       c.ET.Enabled,
		ETStart:  c.ET.Start,
		ETStep:   c.ET.Step,
		ETShifts: c.ET.Shifts,

		Comment: c.Comment,
	}
}

// BenchConfig maps the YAML bench block onto the instrument layer
// configuration
func (c *Config) BenchConfig() bench.Config {
	return bench.Config{
		GeneratorAddr:   c.Bench.Generator,
		AnalyzerAddr:    c.Bench.Analyzer,
		SensorAddr:      c.Bench.Sensor,
		Timeout:         time.Duration(c.Bench.Timeout),
		TrainingTimeout: time.Duration(c.Bench.TrainingTimeout),
		Signal:          c.Bench.Signal,
		TargetOutput:    c.Servo.TargetOutput,
		ExpectedGain:    c.Servo.ExpectedGain,
		PowerOff:        c.Bench.PowerOff,
	}
}
