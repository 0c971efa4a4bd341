package bench

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/JarrettLiner/pa-sweep/internal/scpi"
)

const (
	// generatorPowerLimit caps the output level so a servo overshoot
	// cannot drive the amplifier input beyond its rating
	generatorPowerLimit = 20.0

	// generatorDigitalAttenuation matches the crest factor of the
	// 256QAM test signals
	generatorDigitalAttenuation = -3.522
)

// Generator drives the amplifier input: it plays the selected 5G NR
// ARB waveform at a commanded level and owns the envelope-tracking
// output used for delay sweeps.
type Generator struct {
	client *scpi.Client
	signal SignalConfig
	logger *slog.Logger
}

// NewGenerator wraps an open instrument session with a discard logger
func NewGenerator(client *scpi.Client, signal SignalConfig, options ...func(g *Generator)) *Generator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	g := Generator{
		client: client,
		signal: signal,
		logger: logger,
	}

	for _, option := range options {
		option(&g)
	}

	return &g
}

// WithGeneratorLogger sets the logger for the generator
func WithGeneratorLogger(logger *slog.Logger) func(g *Generator) {
	return func(g *Generator) {
		g.logger = logger.With(slog.String("instrument", "generator"))
	}
}

// Setup presets the generator and loads the test signal: EVM-optimized
// RF path, automatic attenuator mode, output level limit, digital
// attenuation for the signal crest factor, ARB waveform on, RF output on.
func (g *Generator) Setup() error {
	if err := g.client.Reset(); err != nil {
		return fmt.Errorf("resetting generator: %w", err)
	}

	setup := []string{
		"SOURce1:CORRection:OPTimize:RF:CHARacteristics EVM",
		"OUTPut1:AMODe AUTO",
		fmt.Sprintf("SOURce1:POWer:LIMit:AMPLitude %g", generatorPowerLimit),
		fmt.Sprintf("SOURce1:POWer:ATTenuation:DIGital %g", generatorDigitalAttenuation),
		fmt.Sprintf(`SOURce1:BB:ARBitrary:WAVeform:SELect "%s"`, g.signal.WaveformFile()),
		"SOURce1:BB:ARBitrary:STATe 1",
		"OUTPut1:STATe ON",
	}
	for _, cmd := range setup {
		if err := g.client.Sync(cmd); err != nil {
			return fmt.Errorf("generator setup: %w", err)
		}
	}

	g.logger.Info("generator ready", slog.String("waveform", g.signal.WaveformFile()))

	return nil
}

// Configure retunes the generator for one frequency point: level offset
// from the calibration table, carrier frequency and the initial drive
// level the servo starts from.
func (g *Generator) Configure(freqHz, powerDBM, offsetDB float64) error {
	if err := g.client.Sync(fmt.Sprintf(`SOURce1:BB:ARBitrary:WAVeform:SELect "%s"`, g.signal.WaveformFile())); err != nil {
		return fmt.Errorf("selecting waveform: %w", err)
	}
	if err := g.client.Write(fmt.Sprintf(":SOUR1:POW:LEV:IMM:OFFS %.3f", offsetDB)); err != nil {
		return fmt.Errorf("setting level offset: %w", err)
	}

	configure := []string{
		":OUTPut1:AMODe AUTO",
		fmt.Sprintf(":SOUR1:FREQ:CW %g", freqHz),
		fmt.Sprintf(":SOUR1:POW:LEV:IMM:AMPL %.2f", powerDBM),
		fmt.Sprintf("SOURce1:POWer:LIMit:AMPLitude %g", generatorPowerLimit),
	}
	for _, cmd := range configure {
		if err := g.client.Sync(cmd); err != nil {
			return fmt.Errorf("configuring generator: %w", err)
		}
	}

	g.logger.Info("generator configured",
		slog.Float64("frequency", freqHz),
		slog.Float64("power", powerDBM),
		slog.Float64("offset", offsetDB))

	return nil
}

// SetPower commands a new output level in dBm
func (g *Generator) SetPower(dbm float64) error {
	if err := g.client.Sync(fmt.Sprintf(":SOUR1:POW:LEV:IMM:AMPL %.2f", dbm)); err != nil {
		return fmt.Errorf("setting generator power: %w", err)
	}
	return nil
}

// Power reads back the commanded output level in dBm
func (g *Generator) Power() (float64, error) {
	dbm, err := g.client.QueryFloat(":SOUR1:POW:LEV:IMM:AMPL?")
	if err != nil {
		return 0, fmt.Errorf("reading generator power: %w", err)
	}
	return dbm, nil
}

// EnableEnvelope switches the differential envelope output on with
// detrough shaping and zero initial delay
func (g *Generator) EnableEnvelope() error {
	enable := []string{
		"SOURce1:IQ:OUTPut:ANALog:ENVelope:STATe 1",
		"SOURce1:IQ:OUTPut:ANALog:TYPE DIFF",
		"SOURce1:IQ:OUTPut:ANALog:ENVelope:DELay 0",
		"SOURce1:IQ:OUTPut:ANALog:ENVelope:SHAPing:MODE DETR",
	}
	for _, cmd := range enable {
		if err := g.client.Sync(cmd); err != nil {
			return fmt.Errorf("enabling envelope output: %w", err)
		}
	}
	return nil
}

// SetEnvelopeDelay shifts the envelope output against the RF carrier
func (g *Generator) SetEnvelopeDelay(seconds float64) error {
	if err := g.client.Sync(fmt.Sprintf("SOURce1:IQ:OUTPut:ANALog:ENVelope:DELay %g", seconds)); err != nil {
		return fmt.Errorf("setting envelope delay: %w", err)
	}
	return nil
}

// DisableEnvelope switches the envelope output off
func (g *Generator) DisableEnvelope() error {
	if err := g.client.Sync("SOURce1:IQ:OUTPut:ANALog:ENVelope:STATe 0"); err != nil {
		return fmt.Errorf("disabling envelope output: %w", err)
	}
	return nil
}

// Close releases the instrument session
func (g *Generator) Close() error {
	return g.client.Close()
}
