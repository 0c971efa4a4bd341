package sweep

import (
	"errors"
	"testing"
)

type fakeETDevice struct {
	enabled   int
	enableErr error

	delays []float64
	setErr error

	triggered  int
	failAt     int // 1-based sample whose EVM trigger fails, 0 = never
	triggerErr error

	disabled   int
	disableErr error
}

func (f *fakeETDevice) EnableEnvelope() error {
	f.enabled++
	return f.enableErr
}

func (f *fakeETDevice) SetEnvelopeDelay(seconds float64) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.delays = append(f.delays, seconds)
	return nil
}

func (f *fakeETDevice) TriggerEVM() (float64, error) {
	f.triggered++
	if f.failAt > 0 && f.triggered == f.failAt {
		return 0, f.triggerErr
	}
	return -40.0 + float64(f.triggered)*0.1, nil
}

func (f *fakeETDevice) DisableEnvelope() error {
	f.disabled++
	return f.disableErr
}

func TestETSweepSamples(t *testing.T) {
	// 14 shifts of 1 ns from zero: 15 samples, last delay 14 ns.
	e, err := NewETSweep(0, 1e-9, 14)
	if err != nil {
		t.Fatalf("Failed to create sweep: %v", err)
	}

	dev := &fakeETDevice{}

	result, err := e.Run(dev)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if len(result.Delays) != 15 || len(result.EVMs) != 15 {
		t.Fatalf("Expected 15 samples, got %d delays and %d EVMs", len(result.Delays), len(result.EVMs))
	}

	for i, delay := range result.Delays {
		want := 0 + float64(i)*1e-9
		if delay != want {
			t.Errorf("Sample %d: expected delay %v, got %v", i, want, delay)
		}
		if i > 0 && delay <= result.Delays[i-1] {
			t.Errorf("Sample %d: delay %v not above previous %v", i, delay, result.Delays[i-1])
		}
	}

	if last := result.Delays[14]; last != float64(14)*1e-9 {
		t.Errorf("Expected last delay 14 ns, got %v", last)
	}

	if dev.enabled != 1 {
		t.Errorf("Expected envelope enabled once, got %d", dev.enabled)
	}
	if dev.disabled != 1 {
		t.Errorf("Expected envelope disabled once, got %d", dev.disabled)
	}
	if result.Total <= 0 {
		t.Error("Expected non-zero sweep time")
	}
}

func TestETSweepEnableError(t *testing.T) {
	e, err := NewETSweep(0, 1e-9, 2)
	if err != nil {
		t.Fatalf("Failed to create sweep: %v", err)
	}

	enableErr := errors.New("generator offline")
	dev := &fakeETDevice{enableErr: enableErr}

	result, err := e.Run(dev)
	if !errors.Is(err, enableErr) {
		t.Errorf("Expected wrapped enable error, got %v", err)
	}

	// Nothing to tear down when the envelope never came on
	if dev.disabled != 0 {
		t.Errorf("Expected no disable attempt, got %d", dev.disabled)
	}
	if len(result.Delays) != 0 {
		t.Errorf("Expected no samples, got %d", len(result.Delays))
	}
}

func TestETSweepDescending(t *testing.T) {
	e, err := NewETSweep(5e-9, -1e-9, 5)
	if err != nil {
		t.Fatalf("Failed to create sweep: %v", err)
	}

	dev := &fakeETDevice{}

	result, err := e.Run(dev)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if len(result.Delays) != 6 {
		t.Fatalf("Expected 6 samples, got %d", len(result.Delays))
	}
	for i := 1; i < len(result.Delays); i++ {
		if result.Delays[i] >= result.Delays[i-1] {
			t.Errorf("Sample %d: delay %v not below previous %v", i, result.Delays[i], result.Delays[i-1])
		}
	}
}

func TestETSweepSinglePoint(t *testing.T) {
	e, err := NewETSweep(2e-9, 1e-9, 0)
	if err != nil {
		t.Fatalf("Failed to create sweep: %v", err)
	}

	result, err := e.Run(&fakeETDevice{})
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(result.Delays) != 1 || result.Delays[0] != 2e-9 {
		t.Errorf("Expected single sample at 2 ns, got %v", result.Delays)
	}
}

func TestETSweepDisablesOnFailure(t *testing.T) {
	e, err := NewETSweep(0, 1e-9, 14)
	if err != nil {
		t.Fatalf("Failed to create sweep: %v", err)
	}

	triggerErr := errors.New("analyzer offline")
	dev := &fakeETDevice{failAt: 3, triggerErr: triggerErr}

	result, err := e.Run(dev)
	if !errors.Is(err, triggerErr) {
		t.Errorf("Expected wrapped analyzer error, got %v", err)
	}

	// Envelope output must be off even though the sweep died mid-way
	if dev.disabled != 1 {
		t.Errorf("Expected envelope disabled once, got %d", dev.disabled)
	}
	if len(result.Delays) != 2 {
		t.Errorf("Expected 2 completed samples, got %d", len(result.Delays))
	}
}

func TestETSweepTeardownError(t *testing.T) {
	e, err := NewETSweep(0, 1e-9, 2)
	if err != nil {
		t.Fatalf("Failed to create sweep: %v", err)
	}

	disableErr := errors.New("generator offline")
	dev := &fakeETDevice{disableErr: disableErr}

	result, err := e.Run(dev)
	if !errors.Is(err, disableErr) {
		t.Errorf("Expected wrapped teardown error, got %v", err)
	}

	// The sweep itself completed; only the teardown failed
	if len(result.Delays) != 3 {
		t.Errorf("Expected 3 samples, got %d", len(result.Delays))
	}
}

func TestETSweepBodyErrorWins(t *testing.T) {
	e, err := NewETSweep(0, 1e-9, 2)
	if err != nil {
		t.Fatalf("Failed to create sweep: %v", err)
	}

	triggerErr := errors.New("analyzer offline")
	disableErr := errors.New("generator offline")
	dev := &fakeETDevice{failAt: 1, triggerErr: triggerErr, disableErr: disableErr}

	_, err = e.Run(dev)
	if !errors.Is(err, triggerErr) {
		t.Errorf("Expected the sweep error, got %v", err)
	}
	if errors.Is(err, disableErr) {
		t.Error("Teardown error must not mask the sweep error")
	}
	if dev.disabled != 1 {
		t.Errorf("Expected teardown attempt, got %d", dev.disabled)
	}
}

func TestNewETSweepValidation(t *testing.T) {
	if _, err := NewETSweep(0, 1e-9, -1); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for negative shifts, got %v", err)
	}
	if _, err := NewETSweep(0, 0, 3); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for zero step, got %v", err)
	}
	if _, err := NewETSweep(0, 0, 0); err != nil {
		t.Errorf("Expected zero step with zero shifts to be valid, got %v", err)
	}
}
