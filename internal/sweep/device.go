package sweep

import (
	"fmt"

	"github.com/JarrettLiner/pa-sweep/internal/calibration"
)

// DeviceContext identifies which analyzer application currently owns the
// instrument: the measurement view or the amplifier (DPD) view. The
// analyzer holds exactly one context at a time.
type DeviceContext int

const (
	ContextMeasurement DeviceContext = iota
	ContextAmplifier
)

func (c DeviceContext) String() string {
	switch c {
	case ContextMeasurement:
		return "measurement"
	case ContextAmplifier:
		return "amplifier"
	default:
		return fmt.Sprintf("context(%d)", int(c))
	}
}

// ServoDevice is the instrument surface the external power servo drives.
// MeasureGain performs the reference measurement, output minus input at
// the current drive level. MeasureOutput reads the amplifier output power.
type ServoDevice interface {
	MeasureGain() (float64, error)
	MeasureOutput() (float64, error)
	SetInputPower(dbm float64) error
}

// InternalServoDevice runs the analyzer-side generator power servo. The
// loop itself is instrument firmware; only the iteration count is read
// back.
type InternalServoDevice interface {
	RunInternalServo(target, tolerance float64, maxIterations int) (int, error)
}

// ETDevice is the instrument surface of an envelope-tracking delay sweep.
// EnableEnvelope switches the generator's envelope output on; the sweep
// switches it back off when it is done.
type ETDevice interface {
	EnableEnvelope() error
	SetEnvelopeDelay(seconds float64) error
	TriggerEVM() (float64, error)
	DisableEnvelope() error
}

// ModeDevice is the full per-mode instrument surface the correction
// pipeline drives
type ModeDevice interface {
	Context() DeviceContext
	SelectAmplifier() error
	SelectMeasurement() error

	ConnectGenerator() error
	DisconnectGenerator() error

	TrainPolynomial() error
	TrainDirect(iterations int) error
	TrainGMP(iterations, lagOrder, leadOrder int) error
	DisableCorrection(mode Mode) error

	MeasureEVM() (float64, error)
	MeasurePower() (float64, error)
	MeasureACLR() (ACLR, error)

	// InputPower reads the generator drive level back, the settled value
	// recorded after the servo stages
	InputPower() (float64, error)

	ServoDevice
	InternalServoDevice
	ETDevice
}

// BenchDevice is everything the sweep driver needs from the instrument
// bench: per-frequency setup, the per-mode device surface, and release.
// Close must be safe to call more than once.
type BenchDevice interface {
	ModeDevice
	Setup(point calibration.Point) error
	Close() error
}
