package sweep

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"
)

// Servo levels the amplifier output power onto a target by stepping the
// generator drive. One proportional step per iteration, no integral or
// derivative term; oscillation around the target is not detected and
// burns iterations until the bound.
type Servo struct {
	target ServoTarget
	logger *slog.Logger
}

// NewServo validates the target and returns a servo with a discard logger
func NewServo(target ServoTarget) (*Servo, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	return &Servo{
		target: target,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}, nil
}

// Run drives the generator until the measured output power lands within
// the tolerance window around the target. The generator is left at the
// last commanded level. Running out of iterations is a reported outcome,
// not an error: the state comes back with Converged false and a nil
// error. Device errors propagate immediately.
func (s *Servo) Run(dev ServoDevice) (ServoState, error) {
	start := time.Now()

	var state ServoState

	gain, err := dev.MeasureGain()
	if err != nil {
		state.SettleTime = time.Since(start)
		return state, fmt.Errorf("measuring reference gain: %w", err)
	}

	state.InputPower = s.target.TargetOutput - gain
	if err := dev.SetInputPower(state.InputPower); err != nil {
		state.SettleTime = time.Since(start)
		return state, fmt.Errorf("setting initial input power: %w", err)
	}

	s.logger.Debug("servo start",
		slog.Float64("gain", gain),
		slog.Float64("input", state.InputPower))

	for state.Iterations < s.target.MaxIterations {
		state.Iterations++

		current, err := dev.MeasureOutput()
		if err != nil {
			state.SettleTime = time.Since(start)
			return state, fmt.Errorf("iteration %d: measuring output: %w", state.Iterations, err)
		}

		delta := s.target.TargetOutput - current
		if math.Abs(delta) < s.target.Tolerance {
			state.Converged = true
			break
		}

		state.InputPower += delta
		if err := dev.SetInputPower(state.InputPower); err != nil {
			state.SettleTime = time.Since(start)
			return state, fmt.Errorf("iteration %d: setting input power: %w", state.Iterations, err)
		}

		s.logger.Debug("servo step",
			slog.Int("iteration", state.Iterations),
			slog.Float64("measured", current),
			slog.Float64("input", state.InputPower))
	}

	state.SettleTime = time.Since(start)

	if !state.Converged {
		s.logger.Warn("servo did not converge",
			slog.Int("iterations", state.Iterations),
			slog.Float64("input", state.InputPower))
	}

	return state, nil
}
