package bench

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/JarrettLiner/pa-sweep/internal/calibration"
	"github.com/JarrettLiner/pa-sweep/internal/scpi"
	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

// Config describes the instrument bench: one signal generator driving
// the amplifier, one signal analyzer on its output, one two-channel
// power sensor on the coupler ports. Addresses are host:port of the
// raw SCPI sockets.
type Config struct {
	GeneratorAddr string
	AnalyzerAddr  string
	SensorAddr    string

	// Timeout bounds a single instrument exchange. TrainingTimeout
	// bounds operations that run inside instrument firmware: DPD
	// training and the internal power servo.
	Timeout         time.Duration
	TrainingTimeout time.Duration

	Signal SignalConfig

	// TargetOutput and ExpectedGain set the drive level the generator
	// starts from on every frequency point: target minus gain.
	TargetOutput float64
	ExpectedGain float64

	// PowerOff shuts the instruments down on Close instead of only
	// dropping the sockets
	PowerOff bool
}

func (c Config) Validate() error {
	if c.GeneratorAddr == "" {
		return fmt.Errorf("%w: generator address is required", sweep.ErrConfiguration)
	}
	if c.AnalyzerAddr == "" {
		return fmt.Errorf("%w: analyzer address is required", sweep.ErrConfiguration)
	}
	if c.SensorAddr == "" {
		return fmt.Errorf("%w: sensor address is required", sweep.ErrConfiguration)
	}
	if err := c.Signal.Validate(); err != nil {
		return fmt.Errorf("%w: %s", sweep.ErrConfiguration, err)
	}
	return nil
}

// Identity holds the *IDN? strings collected when the bench opened
type Identity struct {
	Generator string
	Analyzer  string
	Sensor    string
}

// WithLogger sets the logger for the bench and its instruments
func WithLogger(logger *slog.Logger) func(b *Bench) {
	return func(b *Bench) {
		b.logger = logger
	}
}

// Bench owns the three instrument sessions and adapts them to the
// sweep's device surface: the generator takes the drive-level and
// envelope commands, the analyzer the context switches, trainings and
// demodulation measurements, the sensor the servo's power feedback.
type Bench struct {
	cfg Config

	generator *Generator
	analyzer  *Analyzer
	sensor    *Sensor

	identity Identity

	closeOnce sync.Once
	closeErr  error

	logger *slog.Logger
}

// Open dials all three instruments, collects their identification and
// runs the one-time generator and analyzer setup. On any failure every
// session opened so far is closed again.
func Open(cfg Config, options ...func(b *Bench)) (*Bench, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	b := Bench{
		cfg:    cfg,
		logger: logger,
	}

	for _, option := range options {
		option(&b)
	}

	if b.cfg.Timeout <= 0 {
		b.cfg.Timeout = scpi.DefaultTimeout
	}
	if b.cfg.TrainingTimeout <= 0 {
		b.cfg.TrainingTimeout = DefaultTrainingTimeout
	}

	generator, err := b.dial(b.cfg.GeneratorAddr)
	if err != nil {
		return nil, fmt.Errorf("opening generator: %w", err)
	}

	analyzer, err := b.dial(b.cfg.AnalyzerAddr)
	if err != nil {
		_ = generator.Close()
		return nil, fmt.Errorf("opening analyzer: %w", err)
	}

	sensor, err := b.dial(b.cfg.SensorAddr)
	if err != nil {
		_ = generator.Close()
		_ = analyzer.Close()
		return nil, fmt.Errorf("opening sensor: %w", err)
	}

	b.generator = NewGenerator(generator, b.cfg.Signal, WithGeneratorLogger(b.logger))
	b.analyzer = NewAnalyzer(analyzer, b.cfg.Signal,
		WithAnalyzerLogger(b.logger), WithTrainingTimeout(b.cfg.TrainingTimeout))
	b.sensor = NewSensor(sensor, WithSensorLogger(b.logger))

	if err := b.identify(); err != nil {
		_ = b.Close()
		return nil, err
	}

	if err := b.generator.Setup(); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.analyzer.Setup(); err != nil {
		_ = b.Close()
		return nil, err
	}

	b.logger.Info("bench open",
		slog.String("generator", b.identity.Generator),
		slog.String("analyzer", b.identity.Analyzer),
		slog.String("sensor", b.identity.Sensor))

	return &b, nil
}

func (b *Bench) dial(addr string) (*scpi.Client, error) {
	return scpi.Dial(addr, scpi.WithTimeout(b.cfg.Timeout), scpi.WithLogger(b.logger))
}

func (b *Bench) identify() error {
	var err error
	if b.identity.Generator, err = b.generator.client.ID(); err != nil {
		return fmt.Errorf("identifying generator: %w", err)
	}
	if b.identity.Analyzer, err = b.analyzer.client.ID(); err != nil {
		return fmt.Errorf("identifying analyzer: %w", err)
	}
	if b.identity.Sensor, err = b.sensor.client.ID(); err != nil {
		return fmt.Errorf("identifying sensor: %w", err)
	}
	return nil
}

// Identity returns the *IDN? strings collected when the bench opened
func (b *Bench) Identity() Identity {
	return b.identity
}

// Setup configures all three instruments for one frequency point using
// its calibration offsets. The generator starts at the nominal drive
// level, target output minus expected gain.
func (b *Bench) Setup(point calibration.Point) error {
	initial := b.cfg.TargetOutput - b.cfg.ExpectedGain

	if err := b.generator.Configure(point.FreqHz, initial, point.VSG); err != nil {
		return err
	}
	if err := b.analyzer.Configure(point.FreqHz, point.VSA); err != nil {
		return err
	}
	if err := b.sensor.Configure(point.FreqHz, point.Input, point.Output); err != nil {
		return err
	}

	return nil
}

func (b *Bench) Context() sweep.DeviceContext {
	return b.analyzer.Context()
}

func (b *Bench) SelectAmplifier() error {
	return b.analyzer.SelectAmplifier()
}

func (b *Bench) SelectMeasurement() error {
	return b.analyzer.SelectMeasurement()
}

func (b *Bench) ConnectGenerator() error {
	return b.analyzer.ConnectGenerator()
}

func (b *Bench) DisconnectGenerator() error {
	return b.analyzer.DisconnectGenerator()
}

func (b *Bench) TrainPolynomial() error {
	return b.analyzer.TrainPolynomial()
}

func (b *Bench) TrainDirect(iterations int) error {
	return b.analyzer.TrainDirect(iterations)
}

func (b *Bench) TrainGMP(iterations, lagOrder, leadOrder int) error {
	return b.analyzer.TrainGMP(iterations, lagOrder, leadOrder)
}

func (b *Bench) DisableCorrection(mode sweep.Mode) error {
	return b.analyzer.DisableCorrection(mode)
}

func (b *Bench) MeasureEVM() (float64, error) {
	return b.analyzer.MeasureEVM()
}

func (b *Bench) MeasurePower() (float64, error) {
	return b.analyzer.MeasurePower()
}

func (b *Bench) MeasureACLR() (sweep.ACLR, error) {
	return b.analyzer.MeasureACLR()
}

// MeasureGain reads both sensor channels and returns output minus
// input, the amplifier's gain at the current drive level
func (b *Bench) MeasureGain() (float64, error) {
	input, output, err := b.sensor.Measure()
	if err != nil {
		return 0, err
	}
	return output - input, nil
}

func (b *Bench) MeasureOutput() (float64, error) {
	return b.sensor.MeasureOutput()
}

func (b *Bench) SetInputPower(dbm float64) error {
	return b.generator.SetPower(dbm)
}

func (b *Bench) InputPower() (float64, error) {
	return b.generator.Power()
}

func (b *Bench) RunInternalServo(target, tolerance float64, maxIterations int) (int, error) {
	return b.analyzer.RunInternalServo(target, tolerance, maxIterations)
}

func (b *Bench) EnableEnvelope() error {
	return b.generator.EnableEnvelope()
}

func (b *Bench) SetEnvelopeDelay(seconds float64) error {
	return b.generator.SetEnvelopeDelay(seconds)
}

func (b *Bench) DisableEnvelope() error {
	return b.generator.DisableEnvelope()
}

// TriggerEVM captures and reads one EVM sample for the current envelope
// delay. The delay lives on the generator, the demodulation on the
// analyzer.
func (b *Bench) TriggerEVM() (float64, error) {
	return b.analyzer.MeasureEVM()
}

// Close releases all three instrument sessions, attempting every one
// regardless of earlier failures. It is safe to call more than once;
// later calls return the first result. With PowerOff set, the
// instruments are commanded to shut down first.
func (b *Bench) Close() error {
	b.closeOnce.Do(func() {
		if b.cfg.PowerOff {
			b.powerOff()
		}

		var errs []error
		if err := b.generator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing generator: %w", err))
		}
		if err := b.analyzer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing analyzer: %w", err))
		}
		if err := b.sensor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sensor: %w", err))
		}

		b.closeErr = errors.Join(errs...)
	})

	return b.closeErr
}

// powerOff commands all three instruments to shut down. Failures are
// logged only; the sockets are about to close either way.
func (b *Bench) powerOff() {
	for _, inst := range []struct {
		name   string
		client *scpi.Client
	}{
		{"generator", b.generator.client},
		{"analyzer", b.analyzer.client},
		{"sensor", b.sensor.client},
	} {
		if err := inst.client.Write(":SYST:SHUT"); err != nil {
			b.logger.Warn("power-off failed",
				slog.String("instrument", inst.name), slog.Any("error", err))
		}
	}
}
