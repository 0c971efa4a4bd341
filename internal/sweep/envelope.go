package sweep

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ETSweep steps the generator's envelope delay across Shifts+1 points
// starting at Start and records the demodulated EVM at each point. The
// delay sequence is strictly monotone in the sign of Step.
type ETSweep struct {
	Start  float64 // seconds
	Step   float64 // seconds
	Shifts int     // steps after the first point

	logger *slog.Logger
}

// NewETSweep validates the sweep parameters and returns a sweep with a
// discard logger
func NewETSweep(start, step float64, shifts int) (*ETSweep, error) {
	if shifts < 0 {
		return nil, fmt.Errorf("%w: envelope shifts must be >= 0, got %d", ErrConfiguration, shifts)
	}
	if step == 0 && shifts > 0 {
		return nil, fmt.Errorf("%w: envelope step must be non-zero", ErrConfiguration)
	}

	return &ETSweep{
		Start:  start,
		Step:   step,
		Shifts: shifts,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}, nil
}

// Run enables the envelope output, applies each delay in turn and
// measures EVM. Once enabled, the envelope output is switched off on
// every exit path; when the sweep body succeeded, a teardown failure
// becomes the returned error, otherwise the body error wins and teardown
// is best effort. Total covers the whole sweep including the control
// overhead.
func (e *ETSweep) Run(dev ETDevice) (result ETResult, err error) {
	start := time.Now()
	defer func() {
		result.Total = time.Since(start)
	}()

	if err = dev.EnableEnvelope(); err != nil {
		return result, fmt.Errorf("enabling envelope output: %w", err)
	}

	defer func() {
		if disableErr := dev.DisableEnvelope(); disableErr != nil && err == nil {
			err = fmt.Errorf("disabling envelope output: %w", disableErr)
		}
	}()

	result.Delays = make([]float64, 0, e.Shifts+1)
	result.EVMs = make([]float64, 0, e.Shifts+1)

	for i := 0; i <= e.Shifts; i++ {
		stepStart := time.Now()
		delay := e.Start + float64(i)*e.Step

		if err = dev.SetEnvelopeDelay(delay); err != nil {
			err = fmt.Errorf("setting envelope delay %v: %w", delay, err)
			return result, err
		}

		var evm float64
		if evm, err = dev.TriggerEVM(); err != nil {
			err = fmt.Errorf("measuring EVM at delay %v: %w", delay, err)
			return result, err
		}

		result.Delays = append(result.Delays, delay)
		result.EVMs = append(result.EVMs, evm)

		e.logger.Debug("envelope step",
			slog.Int("shift", i),
			slog.Float64("delay", delay),
			slog.Float64("evm", evm),
			slog.Duration("took", time.Since(stepStart)))
	}

	return result, nil
}
