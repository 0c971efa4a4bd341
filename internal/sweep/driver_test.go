package sweep

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/JarrettLiner/pa-sweep/internal/calibration"
)

type fakeBench struct {
	*fakeModeDevice

	setups   []float64
	setupErr error

	closed   int
	closeErr error
}

func newFakeBench() *fakeBench {
	return &fakeBench{fakeModeDevice: newFakeModeDevice()}
}

func (f *fakeBench) Setup(point calibration.Point) error {
	f.op("setup")
	if f.setupErr != nil {
		return f.setupErr
	}
	f.setups = append(f.setups, point.FreqHz)
	return nil
}

func (f *fakeBench) Close() error {
	f.closed++
	return f.closeErr
}

const testCalibrationCSV = "Center Frequency (GHz),VSG Offset (dB),VSA Offset (dB),Input Power Offset (dB),Output Power Offset (dB)\n" +
	"2.05,1.25,13.50,37.25,13.60\n" +
	"2.10,1.30,13.55,37.30,13.65\n"

func testTable(t *testing.T) *calibration.Table {
	t.Helper()

	tbl, err := calibration.Read(strings.NewReader(testCalibrationCSV))
	if err != nil {
		t.Fatalf("Failed to read calibration fixture: %v", err)
	}
	return tbl
}

func baselineConfig() Config {
	cfg := testConfig()
	cfg.Polynomial = false
	cfg.Direct = false
	cfg.GMP = false
	return cfg
}

func TestDriverSkipsUncalibrated(t *testing.T) {
	// Sweep 2.00, 2.05, 2.10 GHz against a table calibrated at 2.05 and
	// 2.10 only: the first frequency is skipped, not failed.
	cfg := baselineConfig()
	cfg.StartHz = 2.0e9
	cfg.StopHz = 2.1e9
	cfg.StepHz = 0.05e9

	bench := newFakeBench()

	d, err := NewDriver(cfg, bench, testTable(t))
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}

	records, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	expected := []float64{2.05e9, 2.1e9}
	for i, freqHz := range expected {
		if records[i].Point.FreqHz != freqHz {
			t.Errorf("Record %d: expected %.2f GHz, got %.2f GHz", i, freqHz/1e9, records[i].Point.FreqHz/1e9)
		}
		if len(records[i].Measurements) != 1 {
			t.Errorf("Record %d: expected 1 measurement, got %d", i, len(records[i].Measurements))
		}
	}

	if len(bench.setups) != 2 {
		t.Errorf("Expected 2 bench setups, got %d", len(bench.setups))
	}
	if bench.closed != 1 {
		t.Errorf("Expected bench released once, got %d", bench.closed)
	}
}

func TestDriverInclusiveStop(t *testing.T) {
	testCases := []struct {
		name    string
		startHz float64
		stopHz  float64
		records int
	}{
		{"single point", 2.05e9, 2.05e9, 1},
		{"stop on grid", 2.05e9, 2.1e9, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baselineConfig()
			cfg.StartHz = tc.startHz
			cfg.StopHz = tc.stopHz
			cfg.StepHz = 0.05e9

			d, err := NewDriver(cfg, newFakeBench(), testTable(t))
			if err != nil {
				t.Fatalf("Failed to create driver: %v", err)
			}

			records, err := d.Run(context.Background())
			if err != nil {
				t.Fatalf("Sweep failed: %v", err)
			}
			if len(records) != tc.records {
				t.Errorf("Expected %d records, got %d", tc.records, len(records))
			}
		})
	}
}

func TestDriverModeOrder(t *testing.T) {
	cfg := testConfig()
	cfg.StartHz = 2.05e9
	cfg.StopHz = 2.05e9

	d, err := NewDriver(cfg, newFakeBench(), testTable(t))
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}

	records, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	expected := []Mode{ModeBaseline, ModePolynomial, ModeDirect, ModeGMP}
	if len(records[0].Measurements) != len(expected) {
		t.Fatalf("Expected %d measurements, got %d", len(expected), len(records[0].Measurements))
	}
	for i, mode := range expected {
		if records[0].Measurements[i].Mode != mode {
			t.Errorf("Measurement %d: expected mode %s, got %s", i, mode, records[0].Measurements[i].Mode)
		}
	}
}

func TestDriverAbortKeepsRecords(t *testing.T) {
	cfg := baselineConfig()

	evmErr := errors.New("demod failed")
	bench := newFakeBench()
	bench.evmErr = evmErr
	bench.evmErrAt = 2 // first frequency succeeds, second fails

	d, err := NewDriver(cfg, bench, testTable(t))
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}

	records, err := d.Run(context.Background())
	if !errors.Is(err, evmErr) {
		t.Fatalf("Expected wrapped measurement error, got %v", err)
	}

	// The completed first frequency survives the abort
	if len(records) != 1 {
		t.Fatalf("Expected 1 completed record, got %d", len(records))
	}
	if records[0].Point.FreqGHz != 2.05 {
		t.Errorf("Expected the 2.05 GHz record, got %v", records[0].Point.FreqGHz)
	}
	if bench.closed != 1 {
		t.Errorf("Expected bench released despite abort, got %d", bench.closed)
	}
}

func TestDriverSink(t *testing.T) {
	cfg := baselineConfig()

	var sunk []float64
	sink := func(record *Record) error {
		sunk = append(sunk, record.Point.FreqGHz)
		return nil
	}

	d, err := NewDriver(cfg, newFakeBench(), testTable(t), WithRecordSink(sink))
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if len(sunk) != 2 || sunk[0] != 2.05 || sunk[1] != 2.1 {
		t.Errorf("Expected sink to receive 2.05 and 2.1 GHz, got %v", sunk)
	}
}

func TestDriverSinkErrorNotFatal(t *testing.T) {
	cfg := baselineConfig()

	sink := func(record *Record) error {
		return errors.New("disk full")
	}

	d, err := NewDriver(cfg, newFakeBench(), testTable(t), WithRecordSink(sink))
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}

	records, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected sink errors to be non-fatal, got %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(records))
	}
}

func TestDriverCancellation(t *testing.T) {
	cfg := baselineConfig()

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel after the first record: the second frequency never starts
	sink := func(record *Record) error {
		cancel()
		return nil
	}

	bench := newFakeBench()

	d, err := NewDriver(cfg, bench, testTable(t), WithRecordSink(sink))
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}

	records, err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 record before cancellation, got %d", len(records))
	}
	if len(bench.setups) != 1 {
		t.Errorf("Expected 1 bench setup before cancellation, got %d", len(bench.setups))
	}
	if bench.closed != 1 {
		t.Errorf("Expected bench released once, got %d", bench.closed)
	}
}

func TestDriverBenchCloseError(t *testing.T) {
	cfg := baselineConfig()

	closeErr := errors.New("socket reset")
	bench := newFakeBench()
	bench.closeErr = closeErr

	d, err := NewDriver(cfg, bench, testTable(t))
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}

	records, err := d.Run(context.Background())
	if !errors.Is(err, closeErr) {
		t.Fatalf("Expected wrapped release error, got %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected completed records despite release error, got %d", len(records))
	}
}

func TestDriverConfigValidation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"zero step", func(cfg *Config) { cfg.StepHz = 0 }},
		{"stop below start", func(cfg *Config) { cfg.StopHz = cfg.StartHz - 1e6 }},
		{"zero start", func(cfg *Config) { cfg.StartHz = 0 }},
		{"no servo variant", func(cfg *Config) { cfg.ExternalServo = false; cfg.InternalServo = false }},
		{"zero tolerance", func(cfg *Config) { cfg.Target.Tolerance = 0 }},
		{"direct without iterations", func(cfg *Config) { cfg.DPDIterations = 0 }},
		{"negative gmp order", func(cfg *Config) { cfg.GMPLagOrder = -1 }},
		{"negative envelope shifts", func(cfg *Config) { cfg.ET = true; cfg.ETShifts = -1 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)

			if _, err := NewDriver(cfg, newFakeBench(), testTable(t)); !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}
