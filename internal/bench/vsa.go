package bench

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/JarrettLiner/pa-sweep/internal/scpi"
	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

const (
	// analyzer application names as selected over SCPI
	appAmplifier   = `INST:SEL "Amplifier"`
	appMeasurement = `INST:SEL "5G NR"`

	// analyzerSweepTime keeps single captures short, about one 10 ms frame
	analyzerSweepTime = 0.0101

	// dpdTradeoff weights the correction fully toward linearity
	dpdTradeoff = 100

	// gmpModelIterations fixes the model refits per GMP training
	gmpModelIterations = 5

	// DefaultTrainingTimeout bounds iterative DPD training and the
	// analyzer-side power servo, which run far longer than a single
	// socket exchange
	DefaultTrainingTimeout = 5 * time.Minute
)

// Analyzer demodulates the amplifier output. It runs two applications:
// the 5G NR measurement application (EVM, power, ACLR) and the amplifier
// application (DPD training, generator control, internal power servo).
// Exactly one application is selected at a time; the Analyzer tracks
// which one.
type Analyzer struct {
	client  *scpi.Client
	signal  SignalConfig
	context sweep.DeviceContext

	trainingTimeout time.Duration
	pollInterval    time.Duration
	logger          *slog.Logger
}

// NewAnalyzer wraps an open instrument session with a discard logger
func NewAnalyzer(client *scpi.Client, signal SignalConfig, options ...func(a *Analyzer)) *Analyzer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	a := Analyzer{
		client:          client,
		signal:          signal,
		context:         sweep.ContextMeasurement,
		trainingTimeout: DefaultTrainingTimeout,
		pollInterval:    scpi.DefaultPollInterval,
		logger:          logger,
	}

	for _, option := range options {
		option(&a)
	}

	return &a
}

// WithAnalyzerLogger sets the logger for the analyzer
func WithAnalyzerLogger(logger *slog.Logger) func(a *Analyzer) {
	return func(a *Analyzer) {
		a.logger = logger.With(slog.String("instrument", "analyzer"))
	}
}

// WithTrainingTimeout bounds DPD training and the internal power servo
func WithTrainingTimeout(timeout time.Duration) func(a *Analyzer) {
	return func(a *Analyzer) {
		a.trainingTimeout = timeout
	}
}

// Setup presets the analyzer, loads the demodulation setup matching the
// test signal and primes the amplifier application: generator link
// check, reference waveform read, input leveling and a first polynomial
// model estimate. It leaves the measurement application selected with
// the generator link released.
func (a *Analyzer) Setup() error {
	if err := a.client.Reset(); err != nil {
		return fmt.Errorf("resetting analyzer: %w", err)
	}

	measurement := []string{
		fmt.Sprintf(`MMEM:LOAD:STAT 1,"%s"`, a.signal.SetupFile()),
		"CONF:NR5G:DL:CC1:RFUC:STAT OFF",
		fmt.Sprintf(":SENS:SWE:TIME %g", analyzerSweepTime),
		"INIT:CONT OFF",
		"INIT:IMM",
	}
	for _, cmd := range measurement {
		if err := a.client.Sync(cmd); err != nil {
			return fmt.Errorf("analyzer setup: %w", err)
		}
	}

	if err := a.SelectAmplifier(); err != nil {
		return err
	}

	amplifier := []string{
		"CONF:GEN:CONN:STAT ON",
		"CONF:GEN:CONT:STAT ON",
		"CONF:SETT",
		":CONF:REFS:CGW:READ",
		":CONF:DDPD:STAT OFF",
		":SENS:ADJ:LEV",
		"INIT:CONT OFF",
		"INIT:IMM",
		"CONF:DPD:METH GEN",
		"CONF:DPD:SHAP:MODE POLY",
		fmt.Sprintf(":CONF:DPD:TRAD %d", dpdTradeoff),
		"INIT:IMM",
		"CONF:GEN:CONT:STAT OFF",
		"CONF:GEN:CONN:STAT OFF",
	}
	for _, cmd := range amplifier {
		if err := a.client.Sync(cmd); err != nil {
			return fmt.Errorf("priming amplifier application: %w", err)
		}
	}

	if err := a.SelectMeasurement(); err != nil {
		return err
	}

	a.logger.Info("analyzer ready", slog.String("setup", a.signal.SetupFile()))

	return nil
}

// Configure retunes the measurement application for one frequency
// point: center frequency, reference level offset from the calibration
// table, EVM measurement selected.
func (a *Analyzer) Configure(freqHz, offsetDB float64) error {
	if err := a.client.Sync(appMeasurement); err != nil {
		return fmt.Errorf("selecting measurement application: %w", err)
	}
	a.context = sweep.ContextMeasurement

	if err := a.client.Sync(fmt.Sprintf(":SENS:FREQ:CENT %g", freqHz)); err != nil {
		return fmt.Errorf("setting center frequency: %w", err)
	}
	if err := a.client.Write(fmt.Sprintf(":DISP:WIND:TRAC:Y:SCAL:RLEV:OFFS %.2f", offsetDB)); err != nil {
		return fmt.Errorf("setting level offset: %w", err)
	}
	if err := a.client.Sync(":CONF:NR5G:MEAS EVM"); err != nil {
		return fmt.Errorf("selecting EVM measurement: %w", err)
	}

	a.logger.Info("analyzer configured",
		slog.Float64("frequency", freqHz),
		slog.Float64("offset", offsetDB))

	return nil
}

// Context reports which application is currently selected
func (a *Analyzer) Context() sweep.DeviceContext {
	return a.context
}

// SelectAmplifier switches to the amplifier application. The switch can
// outlast a socket deadline on a busy instrument, so it completes via
// status polling.
func (a *Analyzer) SelectAmplifier() error {
	if err := a.client.WaitOPC(appAmplifier, a.trainingTimeout, a.pollInterval); err != nil {
		return fmt.Errorf("selecting amplifier application: %w", err)
	}
	a.context = sweep.ContextAmplifier
	return nil
}

// SelectMeasurement switches back to the measurement application and
// re-selects the EVM measurement
func (a *Analyzer) SelectMeasurement() error {
	if err := a.client.Sync(appMeasurement); err != nil {
		return fmt.Errorf("selecting measurement application: %w", err)
	}
	if err := a.client.Sync("CONF:NR5G:MEAS EVM"); err != nil {
		return fmt.Errorf("selecting EVM measurement: %w", err)
	}
	a.context = sweep.ContextMeasurement
	return nil
}

// ConnectGenerator takes the generator control link: connection and
// level control on, settings synchronized, reference waveform read from
// the generator
func (a *Analyzer) ConnectGenerator() error {
	connect := []string{
		"CONF:GEN:CONN:STAT ON",
		"CONF:GEN:CONT:STAT ON",
		"CONF:SETT",
		":CONF:REFS:CGW:READ",
	}
	for _, cmd := range connect {
		if err := a.client.Sync(cmd); err != nil {
			return fmt.Errorf("connecting generator: %w", err)
		}
	}
	return nil
}

// DisconnectGenerator releases the generator control link
func (a *Analyzer) DisconnectGenerator() error {
	disconnect := []string{
		"CONF:GEN:CONT:STAT OFF",
		"CONF:GEN:CONN:STAT OFF",
	}
	for _, cmd := range disconnect {
		if err := a.client.Sync(cmd); err != nil {
			return fmt.Errorf("disconnecting generator: %w", err)
		}
	}
	return nil
}

// TrainPolynomial estimates a polynomial model from a fresh capture and
// applies the AM/AM and AM/PM corrections to the generator
func (a *Analyzer) TrainPolynomial() error {
	train := []string{
		"CONF:DPD:SHAP:MODE POLY",
		"INIT:IMM",
		"CONF:DPD:UPD",
		":CONF:DPD:AMAM:STAT ON",
		":CONF:DPD:AMPM:STAT ON",
	}
	for _, cmd := range train {
		if err := a.client.Sync(cmd); err != nil {
			return fmt.Errorf("polynomial training: %w", err)
		}
	}
	return nil
}

// TrainDirect runs iterative direct DPD for the given number of
// iterations. The iteration loop is instrument firmware and runs
// minutes; completion is detected by status polling.
func (a *Analyzer) TrainDirect(iterations int) error {
	setup := []string{
		"CONF:DDPD:STAT ON",
		fmt.Sprintf("CONF:DDPD:TRAD %d", dpdTradeoff),
		fmt.Sprintf(":CONF:DDPD:COUN %d", iterations),
	}
	for _, cmd := range setup {
		if err := a.client.Sync(cmd); err != nil {
			return fmt.Errorf("direct training: %w", err)
		}
	}
	if err := a.client.WaitOPC(":CONF:DDPD:STAR", a.trainingTimeout, a.pollInterval); err != nil {
		return fmt.Errorf("direct training: %w", err)
	}
	return nil
}

// TrainGMP runs direct DPD and then fits a generalized memory
// polynomial over it: cross-term lag and lead orders, fixed model
// refits, corrected waveform synchronized to the generator and
// selected for output.
func (a *Analyzer) TrainGMP(iterations, lagOrder, leadOrder int) error {
	if err := a.TrainDirect(iterations); err != nil {
		return err
	}

	fit := []string{
		"CONF:MDPD:STAT ON",
		"CALC:MDPD:MOD",
		fmt.Sprintf("CONF:GMP:LAG:ORD:XTER %d", lagOrder),
		fmt.Sprintf("CONF:GMP:LEAD:ORD:XTER %d", leadOrder),
		fmt.Sprintf("CONF:MDPD:ITER %d", gmpModelIterations),
		":CALC:MDPD:MOD",
		":CONF:MDPD:WAV:UPD",
		"CONF:MDPD:WAV:SEL MDPD",
	}
	for _, cmd := range fit {
		if err := a.client.Sync(cmd); err != nil {
			return fmt.Errorf("GMP model fit: %w", err)
		}
	}
	return nil
}

// DisableCorrection reverts whatever the mode's training applied, so
// the next mode starts from the uncorrected amplifier
func (a *Analyzer) DisableCorrection(mode sweep.Mode) error {
	var revert []string
	switch mode {
	case sweep.ModePolynomial:
		revert = []string{
			":CONF:DPD:AMAM:STAT OFF",
			":CONF:DPD:AMPM:STAT OFF",
		}
	case sweep.ModeDirect:
		revert = []string{
			":CONF:DDPD:APPL:STAT OFF",
			":CONF:DDPD:STAT OFF",
		}
	case sweep.ModeGMP:
		// Selecting the reference waveform drops the GMP waveform from
		// the generator before the correction state is cleared
		revert = []string{
			":CONF:MDPD:WAV:SEL REF",
			":CONF:DDPD:APPL:STAT OFF",
		}
	default:
		return nil
	}

	for _, cmd := range revert {
		if err := a.client.Sync(cmd); err != nil {
			return fmt.Errorf("disabling %s correction: %w", mode, err)
		}
	}
	return nil
}

// MeasureEVM triggers a capture and reads the averaged EVM over all
// carriers in percent
func (a *Analyzer) MeasureEVM() (float64, error) {
	if err := a.client.Sync("INIT:IMM"); err != nil {
		return 0, fmt.Errorf("triggering capture: %w", err)
	}
	evm, err := a.client.QueryFloat("FETC:CC1:ISRC:FRAM:SUMM:EVM:ALL:AVERage?")
	if err != nil {
		return 0, fmt.Errorf("reading EVM: %w", err)
	}
	return evm, nil
}

// MeasurePower reads the averaged frame power of the most recent
// capture in dBm
func (a *Analyzer) MeasurePower() (float64, error) {
	power, err := a.client.QueryFloat("FETC:CC1:ISRC:FRAM:SUMM:POW:AVERage?")
	if err != nil {
		return 0, fmt.Errorf("reading frame power: %w", err)
	}
	return power, nil
}

// MeasureACLR switches the measurement application into ACLR, reads the
// channel power and both adjacent-channel ratios, and restores the EVM
// measurement
func (a *Analyzer) MeasureACLR() (sweep.ACLR, error) {
	if err := a.client.Write("CONF:NR5G:MEAS ACLR"); err != nil {
		return sweep.ACLR{}, fmt.Errorf("selecting ACLR measurement: %w", err)
	}
	if err := a.client.Write("INIT:IMM;*WAI"); err != nil {
		return sweep.ACLR{}, fmt.Errorf("triggering ACLR capture: %w", err)
	}

	reply, err := a.client.Query("CALC:MARK:FUNC:POW:RES? ACP")
	if err != nil {
		return sweep.ACLR{}, fmt.Errorf("reading ACLR: %w", err)
	}

	aclr, err := parseACLR(reply)
	if err != nil {
		return sweep.ACLR{}, err
	}

	if err := a.client.Sync("CONF:NR5G:MEAS EVM"); err != nil {
		return sweep.ACLR{}, fmt.Errorf("restoring EVM measurement: %w", err)
	}

	return aclr, nil
}

// parseACLR reads the first three values of the ACP result list:
// channel power, lower and upper adjacent-channel ratio
func parseACLR(reply string) (sweep.ACLR, error) {
	fields := strings.Split(reply, ",")
	if len(fields) < 3 {
		return sweep.ACLR{}, fmt.Errorf("short ACLR result %q", reply)
	}

	values := make([]float64, 3)
	for i := range values {
		value, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return sweep.ACLR{}, fmt.Errorf("parsing ACLR result %q: %w", reply, err)
		}
		values[i] = value
	}

	return sweep.ACLR{
		ChannelPower: values[0],
		Lower:        values[1],
		Upper:        values[2],
	}, nil
}

// RunInternalServo runs the amplifier application's generator power
// servo and reads back how many leveling iterations it took. When
// called from the measurement context, the analyzer switches to the
// amplifier application and takes the generator control link for the
// duration of the loop, then restores both.
func (a *Analyzer) RunInternalServo(target, tolerance float64, maxIterations int) (int, error) {
	borrowed := a.context != sweep.ContextAmplifier
	if borrowed {
		if err := a.SelectAmplifier(); err != nil {
			return 0, err
		}
		if err := a.ConnectGenerator(); err != nil {
			return 0, err
		}
	}

	setup := []string{
		"CONF:PSER:STAT ON",
		fmt.Sprintf("CONF:PSER:TARG:LEV %.2f", target),
		fmt.Sprintf("CONF:PSER:TOL %.2f", tolerance),
		fmt.Sprintf("CONF:PSER:MAX:ITER %d", maxIterations),
	}
	for _, cmd := range setup {
		if err := a.client.Sync(cmd); err != nil {
			return 0, fmt.Errorf("internal servo setup: %w", err)
		}
	}

	if err := a.client.WaitOPC("CONF:PSER:STAR", a.trainingTimeout, a.pollInterval); err != nil {
		return 0, fmt.Errorf("internal servo: %w", err)
	}

	iterations, err := a.client.QueryFloat("FETC:PSER:ITER?")
	if err != nil {
		return 0, fmt.Errorf("reading servo iterations: %w", err)
	}

	if err := a.client.Sync("CONF:PSER:STAT OFF"); err != nil {
		return 0, fmt.Errorf("internal servo teardown: %w", err)
	}

	if borrowed {
		if err := a.DisconnectGenerator(); err != nil {
			return 0, err
		}
		if err := a.SelectMeasurement(); err != nil {
			return 0, err
		}
	}

	return int(iterations), nil
}

// Close releases the instrument session
func (a *Analyzer) Close() error {
	return a.client.Close()
}
