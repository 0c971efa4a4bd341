package sweep

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JarrettLiner/pa-sweep/internal/calibration"
)

// Config fixes a whole frequency sweep
type Config struct {
	StartHz float64
	StopHz  float64
	StepHz  float64

	Target ServoTarget

	ExternalServo bool
	InternalServo bool

	Polynomial bool
	Direct     bool
	GMP        bool

	DPDIterations int // direct and gmp training iterations
	GMPLagOrder   int
	GMPLeadOrder  int

	ET       bool
	ETStart  float64 // seconds
	ETStep   float64 // seconds
	ETShifts int

	Comment string
}

// Validate rejects sweeps that cannot run
func (c Config) Validate() error {
	if c.StartHz <= 0 {
		return fmt.Errorf("%w: sweep start must be > 0 Hz, got %v", ErrConfiguration, c.StartHz)
	}
	if c.StopHz < c.StartHz {
		return fmt.Errorf("%w: sweep stop %v Hz is below start %v Hz", ErrConfiguration, c.StopHz, c.StartHz)
	}
	if c.StepHz <= 0 {
		return fmt.Errorf("%w: sweep step must be > 0 Hz, got %v", ErrConfiguration, c.StepHz)
	}
	if err := c.Target.Validate(); err != nil {
		return err
	}
	if !c.ExternalServo && !c.InternalServo {
		return fmt.Errorf("%w: at least one servo variant must be enabled", ErrConfiguration)
	}
	if (c.Direct || c.GMP) && c.DPDIterations <= 0 {
		return fmt.Errorf("%w: dpd iterations must be > 0, got %d", ErrConfiguration, c.DPDIterations)
	}
	if c.GMP && (c.GMPLagOrder < 0 || c.GMPLeadOrder < 0) {
		return fmt.Errorf("%w: gmp cross-term orders must be >= 0", ErrConfiguration)
	}
	if c.ET {
		if c.ETShifts < 0 {
			return fmt.Errorf("%w: envelope shifts must be >= 0, got %d", ErrConfiguration, c.ETShifts)
		}
		if c.ETStep == 0 && c.ETShifts > 0 {
			return fmt.Errorf("%w: envelope step must be non-zero", ErrConfiguration)
		}
	}
	return nil
}

// EnabledModes returns the modes this sweep runs, in execution order
func (c Config) EnabledModes() []Mode {
	modes := []Mode{ModeBaseline}
	if c.Polynomial {
		modes = append(modes, ModePolynomial)
	}
	if c.Direct {
		modes = append(modes, ModeDirect)
	}
	if c.GMP {
		modes = append(modes, ModeGMP)
	}
	return modes
}

// RecordSink receives each completed frequency record as soon as its
// modes are done, so partial sweeps are persisted before an abort. Sink
// errors are logged, never fatal.
type RecordSink func(record *Record) error

// WithLogger sets the logger for the driver and its stages
func WithLogger(logger *slog.Logger) func(d *Driver) {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithRecordSink sets the per-record sink
func WithRecordSink(sink RecordSink) func(d *Driver) {
	return func(d *Driver) {
		d.sink = sink
	}
}

// Driver iterates the sweep over every calibrated frequency point and
// aggregates the per-mode measurements into records
type Driver struct {
	cfg   Config
	bench BenchDevice
	table *calibration.Table
	pipe  *Pipeline

	sink   RecordSink
	logger *slog.Logger
}

// NewDriver validates the configuration and binds it to a bench and a
// calibration table, with a discard logger
func NewDriver(cfg Config, bench BenchDevice, table *calibration.Table, options ...func(d *Driver)) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pipe, err := NewPipeline(cfg)
	if err != nil {
		return nil, err
	}

	d := Driver{
		cfg:    cfg,
		bench:  bench,
		table:  table,
		pipe:   pipe,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&d)
	}

	d.pipe.setLogger(d.logger)

	return &d, nil
}

// Run sweeps every frequency from start to stop inclusive. Frequencies
// without a calibration row are skipped with a warning. Records completed
// so far are always returned, also when a mode failure aborts the sweep.
// The bench is released on every exit path. ctx is consulted between
// frequencies only; a running measurement is never interrupted.
func (d *Driver) Run(ctx context.Context) (records []*Record, err error) {
	defer func() {
		if closeErr := d.bench.Close(); closeErr != nil {
			if err == nil {
				err = fmt.Errorf("releasing bench: %w", closeErr)
			} else {
				d.logger.Error("releasing bench failed", slog.Any("error", closeErr))
			}
		}
	}()

	d.logger.Info("starting sweep",
		slog.String("from", formatHz(d.cfg.StartHz)),
		slog.String("to", formatHz(d.cfg.StopHz)),
		slog.String("step", formatHz(d.cfg.StepHz)),
		slog.Int("modes", len(d.cfg.EnabledModes())))

	start := time.Now()
	skipped := 0

	steps := int(math.Floor((d.cfg.StopHz-d.cfg.StartHz)/d.cfg.StepHz + 1e-9))
	for i := 0; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return records, ctx.Err()
		default:
		}

		freqHz := d.cfg.StartHz + float64(i)*d.cfg.StepHz

		point, ok := d.table.Lookup(freqHz)
		if !ok {
			skipped++
			d.logger.Warn("no calibration for frequency, skipping",
				slog.String("frequency", formatHz(freqHz)))
			continue
		}

		record, pointErr := d.sweepPoint(point)
		if pointErr != nil {
			return records, fmt.Errorf("sweeping %s: %w", formatHz(point.FreqHz), pointErr)
		}

		records = append(records, record)

		if d.sink != nil {
			if sinkErr := d.sink(record); sinkErr != nil {
				d.logger.Error("storing record failed",
					slog.String("frequency", formatHz(point.FreqHz)),
					slog.Any("error", sinkErr))
			}
		}
	}

	d.logger.Info("sweep complete",
		slog.Int("swept", len(records)),
		slog.Int("skipped", skipped),
		slog.Duration("took", time.Since(start)))

	return records, nil
}

func (d *Driver) sweepPoint(point calibration.Point) (*Record, error) {
	logger := d.logger.With(slog.String("frequency", formatHz(point.FreqHz)))

	start := time.Now()
	record := Record{Point: point, Comment: d.cfg.Comment}

	if err := d.bench.Setup(point); err != nil {
		return nil, fmt.Errorf("bench setup: %w", err)
	}
	record.SetupTime = time.Since(start)

	logger.Info("bench configured", slog.Duration("took", record.SetupTime))

	for _, mode := range d.cfg.EnabledModes() {
		modeStart := time.Now()

		m, err := d.pipe.RunMode(d.bench, mode)
		if err != nil {
			return nil, fmt.Errorf("mode %s: %w", mode, err)
		}

		record.Measurements = append(record.Measurements, *m)

		logger.Info("mode complete",
			slog.String("mode", mode.String()),
			slog.Float64("evm", m.EVM),
			slog.Float64("power", m.OutputPower),
			slog.Duration("took", time.Since(modeStart)))
	}

	record.TotalTime = time.Since(start)

	return &record, nil
}

func formatHz(freqHz float64) string {
	value, prefix := humanize.ComputeSI(freqHz)
	return fmt.Sprintf("%.2f %sHz", value, prefix)
}
