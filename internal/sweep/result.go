package sweep

import (
	"fmt"
	"time"

	"github.com/JarrettLiner/pa-sweep/internal/calibration"
)

// Timing keys recorded per measurement
const (
	TimingTraining = "training"
	TimingServoExt = "servo_external"
	TimingServoInt = "servo_internal"
	TimingEVM      = "evm"
	TimingACLR     = "aclr"
)

// ServoTarget is the immutable input of a servo run
type ServoTarget struct {
	TargetOutput  float64 // desired amplifier output power, dBm
	Tolerance     float64 // convergence window, dB
	ExpectedGain  float64 // nominal amplifier gain for the initial drive level, dB
	MaxIterations int
}

// Validate rejects targets the servo loop cannot terminate on
func (t ServoTarget) Validate() error {
	if t.Tolerance <= 0 {
		return fmt.Errorf("%w: servo tolerance must be > 0, got %v", ErrConfiguration, t.Tolerance)
	}
	if t.MaxIterations <= 0 {
		return fmt.Errorf("%w: servo max iterations must be > 0, got %d", ErrConfiguration, t.MaxIterations)
	}
	return nil
}

// ServoState is the mutable state of a single servo run. It is created
// on entry, reported on exit and never shared between runs.
type ServoState struct {
	InputPower float64 // last commanded generator level, dBm
	Iterations int
	Converged  bool
	SettleTime time.Duration
}

// ServoOutcome reports the servo variants that ran for one measurement.
// External and internal iteration counts describe different loops and
// are never combined into a single figure.
type ServoOutcome struct {
	InputPower         float64
	ExternalIterations int
	InternalIterations int
	Converged          bool
	SettleTime         time.Duration
}

// ACLR is the adjacent-channel power triple reported by the analyzer
type ACLR struct {
	ChannelPower float64 // dBm
	Lower        float64 // dBc
	Upper        float64 // dBc
}

// Measurement is the outcome of one (frequency, mode) cell
type Measurement struct {
	Mode         Mode
	OutputPower  float64 // dBm
	EVM          float64 // dB
	ChannelPower float64 // dBm
	ACLRLower    float64 // dBc
	ACLRUpper    float64 // dBc
	Servo        ServoOutcome
	ET           *ETResult // nil unless the envelope sweep ran
	Timings      map[string]time.Duration
}

// ETResult is one envelope-tracking delay sweep: parallel delay/EVM
// samples plus the wall time of the whole sweep including control
// overhead
type ETResult struct {
	Delays []float64 // seconds
	EVMs   []float64 // dB
	Total  time.Duration
}

// Record is everything measured at one frequency point
type Record struct {
	Point        calibration.Point
	SetupTime    time.Duration
	Measurements []Measurement // in execution order, baseline first
	TotalTime    time.Duration
	Comment      string
}
