package bench

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/JarrettLiner/pa-sweep/internal/scpi"
)

// Sensor is the two-channel RF power sensor on the amplifier coupler
// ports: channel 1 samples the input, channel 2 the output. It is the
// power reference the external servo converges against.
type Sensor struct {
	client *scpi.Client
	logger *slog.Logger
}

// NewSensor wraps an open instrument session with a discard logger
func NewSensor(client *scpi.Client, options ...func(s *Sensor)) *Sensor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Sensor{
		client: client,
		logger: logger,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// WithSensorLogger sets the logger for the sensor
func WithSensorLogger(logger *slog.Logger) func(s *Sensor) {
	return func(s *Sensor) {
		s.logger = logger.With(slog.String("instrument", "sensor"))
	}
}

// Configure tunes both channels to the carrier and applies the coupler
// offsets from the calibration table, as one synchronized exchange
func (s *Sensor) Configure(freqHz, inputOffsetDB, outputOffsetDB float64) error {
	cmd := fmt.Sprintf(
		":SENS1:FREQ %g;"+
			":SENS2:FREQ %g;"+
			":CALCulate1:CHANnel1:CORRection:OFFSet:MAGNitude %.2f;"+
			":CALCulate1:CHANnel1:CORRection:OFFSet:STATe ON;"+
			":CALCulate2:CHANnel1:CORRection:OFFSet:MAGNitude %.2f;"+
			":CALCulate2:CHANnel1:CORRection:OFFSet:STATe ON",
		freqHz, freqHz, inputOffsetDB, outputOffsetDB)

	if err := s.client.Sync(cmd); err != nil {
		return fmt.Errorf("configuring sensor: %w", err)
	}

	s.logger.Info("sensor configured",
		slog.Float64("frequency", freqHz),
		slog.Float64("inputOffset", inputOffsetDB),
		slog.Float64("outputOffset", outputOffsetDB))

	return nil
}

// Measure reads both channels: amplifier input and output power in dBm
func (s *Sensor) Measure() (input, output float64, err error) {
	if input, err = s.client.QueryFloat(":MEAS1?"); err != nil {
		return 0, 0, fmt.Errorf("measuring input power: %w", err)
	}
	if output, err = s.client.QueryFloat(":MEAS2?"); err != nil {
		return 0, 0, fmt.Errorf("measuring output power: %w", err)
	}
	return input, output, nil
}

// MeasureOutput reads the output channel only, the servo's feedback path
func (s *Sensor) MeasureOutput() (float64, error) {
	output, err := s.client.QueryFloat(":MEAS2?")
	if err != nil {
		return 0, fmt.Errorf("measuring output power: %w", err)
	}
	return output, nil
}

// Close releases the instrument session
func (s *Sensor) Close() error {
	return s.client.Close()
}
