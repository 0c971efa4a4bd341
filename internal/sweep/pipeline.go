package sweep

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Pipeline runs one correction mode at a time against the bench. Every
// mode goes through the same stages: context entry, training, power
// servo, measurement, optional envelope sweep, teardown. Modes never
// observe another mode's correction: teardown runs for every mode that
// entered the amplifier context, on success and on failure.
type Pipeline struct {
	cfg    Config
	servo  *Servo
	et     *ETSweep
	logger *slog.Logger
}

// NewPipeline validates the configuration and builds the per-mode stages
func NewPipeline(cfg Config) (*Pipeline, error) {
	servo, err := NewServo(cfg.Target)
	if err != nil {
		return nil, err
	}

	var et *ETSweep
	if cfg.ET {
		if et, err = NewETSweep(cfg.ETStart, cfg.ETStep, cfg.ETShifts); err != nil {
			return nil, err
		}
	}

	return &Pipeline{
		cfg:    cfg,
		servo:  servo,
		et:     et,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}, nil
}

func (p *Pipeline) setLogger(logger *slog.Logger) {
	p.logger = logger
	p.servo.logger = logger
	if p.et != nil {
		p.et.logger = logger
	}
}

// RunMode executes one mode at the current frequency. The analyzer must
// be in the measurement context on entry and is back in it on return,
// also on failure, with the correction disabled and the generator
// control link released.
func (p *Pipeline) RunMode(dev ModeDevice, mode Mode) (m *Measurement, err error) {
	if ctx := dev.Context(); ctx != ContextMeasurement {
		return nil, fmt.Errorf("%w: mode %s entered in %s context", ErrConfiguration, mode, ctx)
	}

	logger := p.logger.With(slog.String("mode", mode.String()))

	m = &Measurement{
		Mode:    mode,
		Timings: make(map[string]time.Duration),
	}

	if mode != ModeBaseline {
		trainStart := time.Now()

		if err = dev.SelectAmplifier(); err != nil {
			return nil, fmt.Errorf("entering amplifier context: %w", err)
		}

		defer func() {
			teardownErr := p.teardown(dev, mode)
			if teardownErr == nil {
				return
			}
			if err == nil {
				err = teardownErr
			} else {
				logger.Error("teardown failed after mode error", slog.Any("error", teardownErr))
			}
		}()

		if err = dev.ConnectGenerator(); err != nil {
			return nil, fmt.Errorf("connecting generator: %w", err)
		}

		// Train from the nominal drive level, not from wherever the
		// previous mode's servo left the generator.
		initial := p.cfg.Target.TargetOutput - p.cfg.Target.ExpectedGain
		if err = dev.SetInputPower(initial); err != nil {
			return nil, fmt.Errorf("presetting input power: %w", err)
		}

		if err = p.train(dev, mode); err != nil {
			return nil, fmt.Errorf("training %s: %w", mode, err)
		}

		m.Timings[TimingTraining] = time.Since(trainStart)
		logger.Info("correction trained", slog.Duration("took", m.Timings[TimingTraining]))
	}

	if p.cfg.ExternalServo {
		servoStart := time.Now()

		state, servoErr := p.servo.Run(dev)
		if servoErr != nil {
			return nil, fmt.Errorf("external servo: %w", servoErr)
		}

		m.Servo.ExternalIterations = state.Iterations
		m.Servo.Converged = state.Converged
		m.Servo.SettleTime = state.SettleTime
		m.Timings[TimingServoExt] = time.Since(servoStart)
	}

	if p.cfg.InternalServo {
		servoStart := time.Now()

		iterations, servoErr := dev.RunInternalServo(
			p.cfg.Target.TargetOutput, p.cfg.Target.Tolerance, p.cfg.Target.MaxIterations)
		if servoErr != nil {
			return nil, fmt.Errorf("internal servo: %w", servoErr)
		}

		m.Servo.InternalIterations = iterations
		m.Timings[TimingServoInt] = time.Since(servoStart)
	}

	// The recorded drive level is the generator's read-back, not the last
	// commanded value: the internal servo levels the generator without
	// reporting where it landed.
	if p.cfg.ExternalServo || p.cfg.InternalServo {
		level, levelErr := dev.InputPower()
		if levelErr != nil {
			return nil, fmt.Errorf("reading drive level: %w", levelErr)
		}
		m.Servo.InputPower = level
	}

	if mode != ModeBaseline {
		if err = dev.SelectMeasurement(); err != nil {
			return nil, fmt.Errorf("restoring measurement context: %w", err)
		}
	}

	evmStart := time.Now()
	if m.EVM, err = dev.MeasureEVM(); err != nil {
		return nil, fmt.Errorf("measuring EVM: %w", err)
	}
	if m.OutputPower, err = dev.MeasurePower(); err != nil {
		return nil, fmt.Errorf("measuring output power: %w", err)
	}
	m.Timings[TimingEVM] = time.Since(evmStart)

	aclrStart := time.Now()
	aclr, aclrErr := dev.MeasureACLR()
	if aclrErr != nil {
		return nil, fmt.Errorf("measuring ACLR: %w", aclrErr)
	}
	m.ChannelPower = aclr.ChannelPower
	m.ACLRLower = aclr.Lower
	m.ACLRUpper = aclr.Upper
	m.Timings[TimingACLR] = time.Since(aclrStart)

	// Envelope sweep runs before teardown, so its EVM samples still see
	// the trained correction.
	if p.et != nil {
		et, etErr := p.et.Run(dev)
		if etErr != nil {
			return nil, fmt.Errorf("envelope sweep: %w", etErr)
		}
		m.ET = &et
	}

	return m, nil
}

func (p *Pipeline) train(dev ModeDevice, mode Mode) error {
	switch mode {
	case ModePolynomial:
		return dev.TrainPolynomial()
	case ModeDirect:
		return dev.TrainDirect(p.cfg.DPDIterations)
	case ModeGMP:
		return dev.TrainGMP(p.cfg.DPDIterations, p.cfg.GMPLagOrder, p.cfg.GMPLeadOrder)
	default:
		return fmt.Errorf("%w: mode %s has no training stage", ErrConfiguration, mode)
	}
}

// teardown reverts the trained correction, releases the generator
// control link and returns the analyzer to the measurement context.
// Correction disable and link release are amplifier-application
// commands: addressed to the measurement application they are silently
// ignored, so when the mode already switched back for its measurements
// the amplifier context is re-entered first.
func (p *Pipeline) teardown(dev ModeDevice, mode Mode) error {
	if dev.Context() != ContextAmplifier {
		if err := dev.SelectAmplifier(); err != nil {
			return fmt.Errorf("re-entering amplifier context: %w", err)
		}
	}
	if err := dev.DisableCorrection(mode); err != nil {
		return fmt.Errorf("disabling %s correction: %w", mode, err)
	}
	if err := dev.DisconnectGenerator(); err != nil {
		return fmt.Errorf("disconnecting generator: %w", err)
	}
	if err := dev.SelectMeasurement(); err != nil {
		return fmt.Errorf("restoring measurement context: %w", err)
	}
	return nil
}
