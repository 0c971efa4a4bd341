package sweep

import (
	"errors"
	"testing"
)

// fakeModeDevice implements the full per-mode device surface and records
// the operation sequence for order assertions
type fakeModeDevice struct {
	ctx DeviceContext
	ops []string

	selectAmpErr  error
	selectMeasErr error

	gain     float64
	outputs  []float64
	measured int
	inputs   []float64

	readback    float64
	readbackErr error

	disableCtx    DeviceContext
	disconnectCtx DeviceContext

	internalIterations int
	internalErr        error

	evm      float64
	evmCalls int
	evmErrAt int // 1-based call that fails, 0 with evmErr set = always
	evmErr   error
	power    float64
	powerErr error
	aclr     ACLR
	aclrErr  error

	trainPolyErr   error
	trainDirectErr error
	trainGMPErr    error
	disableErr     error

	directIterations              int
	gmpIterations, gmpLag, gmpLead int

	etDelays   []float64
	etDisabled int
}

func newFakeModeDevice() *fakeModeDevice {
	return &fakeModeDevice{
		ctx:                ContextMeasurement,
		gain:               18.0,
		outputs:            []float64{6.01}, // converges on the first check
		readback:           -12.03,
		internalIterations: 4,
		evm:                -38.5,
		power:              5.99,
		aclr:               ACLR{ChannelPower: 5.9, Lower: -45.2, Upper: -44.8},
	}
}

func (f *fakeModeDevice) op(name string) { f.ops = append(f.ops, name) }

func (f *fakeModeDevice) Context() DeviceContext { return f.ctx }

func (f *fakeModeDevice) SelectAmplifier() error {
	f.op("select_amplifier")
	if f.selectAmpErr != nil {
		return f.selectAmpErr
	}
	f.ctx = ContextAmplifier
	return nil
}

func (f *fakeModeDevice) SelectMeasurement() error {
	f.op("select_measurement")
	if f.selectMeasErr != nil {
		return f.selectMeasErr
	}
	f.ctx = ContextMeasurement
	return nil
}

func (f *fakeModeDevice) ConnectGenerator() error { f.op("connect_generator"); return nil }

func (f *fakeModeDevice) DisconnectGenerator() error {
	f.op("disconnect_generator")
	f.disconnectCtx = f.ctx
	return nil
}

func (f *fakeModeDevice) TrainPolynomial() error {
	f.op("train_polynomial")
	return f.trainPolyErr
}

func (f *fakeModeDevice) TrainDirect(iterations int) error {
	f.op("train_direct")
	f.directIterations = iterations
	return f.trainDirectErr
}

func (f *fakeModeDevice) TrainGMP(iterations, lagOrder, leadOrder int) error {
	f.op("train_gmp")
	f.gmpIterations, f.gmpLag, f.gmpLead = iterations, lagOrder, leadOrder
	return f.trainGMPErr
}

func (f *fakeModeDevice) DisableCorrection(mode Mode) error {
	f.op("disable_" + mode.String())
	f.disableCtx = f.ctx
	return f.disableErr
}

func (f *fakeModeDevice) MeasureEVM() (float64, error) {
	f.op("measure_evm")
	f.evmCalls++
	if f.evmErr != nil && (f.evmErrAt == 0 || f.evmCalls == f.evmErrAt) {
		return 0, f.evmErr
	}
	return f.evm, nil
}

func (f *fakeModeDevice) MeasurePower() (float64, error) {
	f.op("measure_power")
	if f.powerErr != nil {
		return 0, f.powerErr
	}
	return f.power, nil
}

func (f *fakeModeDevice) MeasureACLR() (ACLR, error) {
	f.op("measure_aclr")
	if f.aclrErr != nil {
		return ACLR{}, f.aclrErr
	}
	return f.aclr, nil
}

func (f *fakeModeDevice) MeasureGain() (float64, error) {
	f.op("measure_gain")
	return f.gain, nil
}

func (f *fakeModeDevice) MeasureOutput() (float64, error) {
	f.op("measure_output")
	i := f.measured
	if i >= len(f.outputs) {
		i = len(f.outputs) - 1
	}
	f.measured++
	return f.outputs[i], nil
}

func (f *fakeModeDevice) SetInputPower(dbm float64) error {
	f.op("set_input_power")
	f.inputs = append(f.inputs, dbm)
	return nil
}

func (f *fakeModeDevice) InputPower() (float64, error) {
	f.op("input_power")
	if f.readbackErr != nil {
		return 0, f.readbackErr
	}
	return f.readback, nil
}

func (f *fakeModeDevice) RunInternalServo(target, tolerance float64, maxIterations int) (int, error) {
	f.op("run_internal_servo")
	if f.internalErr != nil {
		return 0, f.internalErr
	}
	return f.internalIterations, nil
}

func (f *fakeModeDevice) EnableEnvelope() error {
	f.op("enable_envelope")
	return nil
}

func (f *fakeModeDevice) SetEnvelopeDelay(seconds float64) error {
	f.op("set_envelope_delay")
	f.etDelays = append(f.etDelays, seconds)
	return nil
}

func (f *fakeModeDevice) TriggerEVM() (float64, error) {
	f.op("trigger_evm")
	return -39.0, nil
}

func (f *fakeModeDevice) DisableEnvelope() error {
	f.op("disable_envelope")
	f.etDisabled++
	return nil
}

func opIndex(ops []string, name string) int {
	for i, op := range ops {
		if op == name {
			return i
		}
	}
	return -1
}

func opCount(ops []string, name string) int {
	count := 0
	for _, op := range ops {
		if op == name {
			count++
		}
	}
	return count
}

func testConfig() Config {
	return Config{
		StartHz: 2.05e9,
		StopHz:  2.1e9,
		StepHz:  0.05e9,
		Target: ServoTarget{
			TargetOutput:  6.0,
			Tolerance:     0.05,
			ExpectedGain:  18.0,
			MaxIterations: 10,
		},
		ExternalServo: true,
		InternalServo: true,
		Polynomial:    true,
		Direct:        true,
		GMP:           true,
		DPDIterations: 5,
		GMPLagOrder:   1,
		GMPLeadOrder:  1,
	}
}

func TestPipelineBaseline(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	dev := newFakeModeDevice()

	m, err := p.RunMode(dev, ModeBaseline)
	if err != nil {
		t.Fatalf("Baseline failed: %v", err)
	}

	// Baseline never touches the amplifier context
	for _, op := range []string{"select_amplifier", "connect_generator", "train_polynomial"} {
		if opIndex(dev.ops, op) != -1 {
			t.Errorf("Baseline must not perform %s", op)
		}
	}
	if dev.ctx != ContextMeasurement {
		t.Errorf("Expected measurement context after baseline, got %s", dev.ctx)
	}

	if m.Mode != ModeBaseline {
		t.Errorf("Expected baseline mode, got %s", m.Mode)
	}
	if m.EVM != -38.5 || m.OutputPower != 5.99 {
		t.Errorf("Unexpected measurement: EVM %v, power %v", m.EVM, m.OutputPower)
	}
	if m.ChannelPower != 5.9 || m.ACLRLower != -45.2 || m.ACLRUpper != -44.8 {
		t.Errorf("Unexpected ACLR triple: %v %v %v", m.ChannelPower, m.ACLRLower, m.ACLRUpper)
	}
	if m.ET != nil {
		t.Error("Expected no envelope sweep")
	}

	if _, ok := m.Timings[TimingTraining]; ok {
		t.Error("Baseline must not record a training time")
	}
	for _, key := range []string{TimingServoExt, TimingServoInt, TimingEVM, TimingACLR} {
		if _, ok := m.Timings[key]; !ok {
			t.Errorf("Expected timing %q", key)
		}
	}
}

func TestPipelineModeSequence(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	dev := newFakeModeDevice()

	m, err := p.RunMode(dev, ModePolynomial)
	if err != nil {
		t.Fatalf("Polynomial mode failed: %v", err)
	}

	// Entry, training, context restore, measurement, teardown, in order
	order := []string{
		"select_amplifier",
		"connect_generator",
		"train_polynomial",
		"select_measurement",
		"measure_evm",
		"measure_power",
		"measure_aclr",
		"disable_polynomial",
		"disconnect_generator",
	}
	last := -1
	for _, op := range order {
		i := opIndex(dev.ops, op)
		if i == -1 {
			t.Fatalf("Missing operation %s in %v", op, dev.ops)
		}
		if i < last {
			t.Errorf("Operation %s out of order in %v", op, dev.ops)
		}
		last = i
	}

	if dev.ctx != ContextMeasurement {
		t.Errorf("Expected measurement context after mode, got %s", dev.ctx)
	}
	if _, ok := m.Timings[TimingTraining]; !ok {
		t.Error("Expected a training time")
	}
}

func TestPipelineTrainingParameters(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	dev := newFakeModeDevice()
	if _, err := p.RunMode(dev, ModeDirect); err != nil {
		t.Fatalf("Direct mode failed: %v", err)
	}
	if dev.directIterations != 5 {
		t.Errorf("Expected 5 direct iterations, got %d", dev.directIterations)
	}

	dev = newFakeModeDevice()
	if _, err := p.RunMode(dev, ModeGMP); err != nil {
		t.Fatalf("GMP mode failed: %v", err)
	}
	if dev.gmpIterations != 5 || dev.gmpLag != 1 || dev.gmpLead != 1 {
		t.Errorf("Expected GMP 5/1/1, got %d/%d/%d", dev.gmpIterations, dev.gmpLag, dev.gmpLead)
	}
}

func TestPipelineWrongContext(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	dev := newFakeModeDevice()
	dev.ctx = ContextAmplifier

	if _, err := p.RunMode(dev, ModeDirect); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
	if len(dev.ops) != 0 {
		t.Errorf("Expected no operations after context check, got %v", dev.ops)
	}
}

func TestPipelineTeardownOnTrainingFailure(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	trainErr := errors.New("model rejected")
	dev := newFakeModeDevice()
	dev.trainDirectErr = trainErr

	if _, err := p.RunMode(dev, ModeDirect); !errors.Is(err, trainErr) {
		t.Fatalf("Expected wrapped training error, got %v", err)
	}

	// The broken correction must be reverted before the next mode runs
	for _, op := range []string{"disable_direct", "disconnect_generator", "select_measurement"} {
		if opIndex(dev.ops, op) == -1 {
			t.Errorf("Expected teardown operation %s in %v", op, dev.ops)
		}
	}
	// Training failed inside the amplifier context; teardown reuses it
	if opCount(dev.ops, "select_amplifier") != 1 {
		t.Errorf("Teardown must not re-enter a held amplifier context: %v", dev.ops)
	}
	if dev.disableCtx != ContextAmplifier {
		t.Errorf("Correction disabled in %s context", dev.disableCtx)
	}
	if dev.ctx != ContextMeasurement {
		t.Errorf("Expected measurement context after failed mode, got %s", dev.ctx)
	}
}

func TestPipelineTeardownOnMeasurementFailure(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	evmErr := errors.New("demod failed")
	dev := newFakeModeDevice()
	dev.evmErr = evmErr

	if _, err := p.RunMode(dev, ModePolynomial); !errors.Is(err, evmErr) {
		t.Fatalf("Expected wrapped measurement error, got %v", err)
	}

	if opIndex(dev.ops, "disable_polynomial") == -1 {
		t.Errorf("Expected correction disabled after failure, ops %v", dev.ops)
	}
	if dev.disableCtx != ContextAmplifier {
		t.Errorf("Correction disabled in %s context", dev.disableCtx)
	}
	if dev.ctx != ContextMeasurement {
		t.Errorf("Expected measurement context after failed mode, got %s", dev.ctx)
	}
}

func TestPipelineTeardownInAmplifierContext(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	dev := newFakeModeDevice()

	if _, err := p.RunMode(dev, ModeDirect); err != nil {
		t.Fatalf("Direct mode failed: %v", err)
	}

	// The measurements switched back to the measurement application, so
	// the teardown must re-enter the amplifier application before issuing
	// the correction-disable and link-release commands; addressed to the
	// measurement application they are silently ignored.
	if opCount(dev.ops, "select_amplifier") != 2 {
		t.Errorf("Expected amplifier context re-entered for teardown, ops %v", dev.ops)
	}
	if dev.disableCtx != ContextAmplifier {
		t.Errorf("Correction disabled in %s context", dev.disableCtx)
	}
	if dev.disconnectCtx != ContextAmplifier {
		t.Errorf("Generator released in %s context", dev.disconnectCtx)
	}

	reenter := -1
	for i, op := range dev.ops {
		if op == "select_amplifier" {
			reenter = i
		}
	}
	if disable := opIndex(dev.ops, "disable_direct"); disable < reenter {
		t.Errorf("Correction disabled before context re-entry: %v", dev.ops)
	}
	if dev.ctx != ContextMeasurement {
		t.Errorf("Expected measurement context after mode, got %s", dev.ctx)
	}
}

func TestPipelineRecordsDriveReadback(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	dev := newFakeModeDevice()
	dev.readback = -12.62 // differs from every commanded level

	m, err := p.RunMode(dev, ModeBaseline)
	if err != nil {
		t.Fatalf("Baseline failed: %v", err)
	}

	// The recorded drive level is read back from the generator after both
	// servo stages, not taken from the last commanded value
	if m.Servo.InputPower != -12.62 {
		t.Errorf("Expected read-back drive -12.62 dBm, got %v dBm", m.Servo.InputPower)
	}
	if opIndex(dev.ops, "input_power") < opIndex(dev.ops, "run_internal_servo") {
		t.Errorf("Drive level read before the internal servo: %v", dev.ops)
	}
}

func TestPipelineDriveReadbackError(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	readErr := errors.New("query failed")
	dev := newFakeModeDevice()
	dev.readbackErr = readErr

	if _, err := p.RunMode(dev, ModePolynomial); !errors.Is(err, readErr) {
		t.Fatalf("Expected wrapped read-back error, got %v", err)
	}
	if opIndex(dev.ops, "disable_polynomial") == -1 {
		t.Errorf("Expected teardown after read-back failure, ops %v", dev.ops)
	}
}

func TestPipelineETBeforeTeardown(t *testing.T) {
	cfg := testConfig()
	cfg.ET = true
	cfg.ETStart = 0
	cfg.ETStep = 1e-9
	cfg.ETShifts = 2

	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	dev := newFakeModeDevice()

	m, err := p.RunMode(dev, ModePolynomial)
	if err != nil {
		t.Fatalf("Polynomial mode failed: %v", err)
	}

	if m.ET == nil {
		t.Fatal("Expected an envelope result")
	}
	if len(m.ET.Delays) != 3 {
		t.Errorf("Expected 3 envelope samples, got %d", len(m.ET.Delays))
	}

	// The delay sweep must see the trained correction: it runs after the
	// ACLR measurement and before the correction teardown.
	if opIndex(dev.ops, "enable_envelope") < opIndex(dev.ops, "measure_aclr") {
		t.Errorf("Envelope sweep ran before the measurements: %v", dev.ops)
	}
	if opIndex(dev.ops, "enable_envelope") > opIndex(dev.ops, "set_envelope_delay") {
		t.Errorf("Envelope output enabled after the first delay: %v", dev.ops)
	}
	if opIndex(dev.ops, "disable_envelope") > opIndex(dev.ops, "disable_polynomial") {
		t.Errorf("Envelope teardown ran after correction teardown: %v", dev.ops)
	}
	if dev.etDisabled != 1 {
		t.Errorf("Expected envelope disabled once, got %d", dev.etDisabled)
	}
}

func TestPipelineServoCounts(t *testing.T) {
	cfg := testConfig()

	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	dev := newFakeModeDevice()
	dev.outputs = []float64{3.0, 6.01} // two external iterations
	dev.internalIterations = 7

	m, err := p.RunMode(dev, ModeBaseline)
	if err != nil {
		t.Fatalf("Baseline failed: %v", err)
	}

	// The two variants count different loops; they stay separate
	if m.Servo.ExternalIterations != 2 {
		t.Errorf("Expected 2 external iterations, got %d", m.Servo.ExternalIterations)
	}
	if m.Servo.InternalIterations != 7 {
		t.Errorf("Expected 7 internal iterations, got %d", m.Servo.InternalIterations)
	}
	if !m.Servo.Converged {
		t.Error("Expected external servo convergence")
	}
}

func TestPipelineExternalServoOnly(t *testing.T) {
	cfg := testConfig()
	cfg.InternalServo = false

	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	dev := newFakeModeDevice()

	m, err := p.RunMode(dev, ModeBaseline)
	if err != nil {
		t.Fatalf("Baseline failed: %v", err)
	}

	if opCount(dev.ops, "run_internal_servo") != 0 {
		t.Error("Internal servo must not run when disabled")
	}
	if m.Servo.InternalIterations != 0 {
		t.Errorf("Expected no internal iterations, got %d", m.Servo.InternalIterations)
	}
	if _, ok := m.Timings[TimingServoInt]; ok {
		t.Error("Expected no internal servo timing")
	}
}

func TestPipelineInternalServoError(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	servoErr := errors.New("leveling failed")
	dev := newFakeModeDevice()
	dev.internalErr = servoErr

	if _, err := p.RunMode(dev, ModeGMP); !errors.Is(err, servoErr) {
		t.Fatalf("Expected wrapped servo error, got %v", err)
	}

	if opIndex(dev.ops, "disable_gmp") == -1 {
		t.Errorf("Expected teardown after servo failure, ops %v", dev.ops)
	}
	if dev.ctx != ContextMeasurement {
		t.Errorf("Expected measurement context restored, got %s", dev.ctx)
	}
}

func TestPipelinePresetsDriveLevel(t *testing.T) {
	p, err := NewPipeline(testConfig())
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	dev := newFakeModeDevice()

	if _, err := p.RunMode(dev, ModeDirect); err != nil {
		t.Fatalf("Direct mode failed: %v", err)
	}

	// Training starts from target minus nominal gain
	if len(dev.inputs) == 0 {
		t.Fatal("Expected input power commands")
	}
	if want := 6.0 - 18.0; dev.inputs[0] != want {
		t.Errorf("Expected preset drive %v dBm, got %v dBm", want, dev.inputs[0])
	}
}
