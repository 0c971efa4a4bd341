package bench

import (
	"fmt"
	"strings"
)

const (
	// Bandwidth10MHz is the default channel bandwidth
	Bandwidth10MHz  Bandwidth = "10MHz"
	Bandwidth100MHz Bandwidth = "100MHz"

	// FrameFull is the default demodulation span
	FrameFull      FrameType = "full_frame"
	FrameFirstSlot FrameType = "first_slot"
)

var (
	// numerology per channel bandwidth: subcarrier spacing, resource
	// blocks and RB offset of the canned 5G NR uplink test signals
	signalNumerology = map[Bandwidth]struct {
		scs string
		rb  string
		rbo string
	}{
		Bandwidth10MHz:  {scs: "30kHz", rb: "24rb", rbo: "0rbo"},
		Bandwidth100MHz: {scs: "60kHz", rb: "135rb", rbo: "0rbo"},
	}

	frameSuffixes = map[FrameType]string{
		FrameFull:      "fullframe",
		FrameFirstSlot: "1slot",
	}
)

type Bandwidth string

func (b Bandwidth) String() string {
	return string(b)
}

type FrameType string

func (f FrameType) String() string {
	return string(f)
}

// SignalConfig selects which canned 256QAM uplink test signal the bench
// runs: the generator plays the matching ARB waveform and the analyzer
// loads the matching demodulation setup. Both files are pre-installed on
// the instruments.
type SignalConfig struct {
	Bandwidth Bandwidth `yaml:"bandwidth"`
	FrameType FrameType `yaml:"frame_type"`
}

func (c SignalConfig) Validate() error {
	if _, ok := signalNumerology[c.Bandwidth]; !ok {
		return fmt.Errorf("unsupported signal bandwidth %q", c.Bandwidth)
	}
	if _, ok := frameSuffixes[c.FrameType]; !ok {
		return fmt.Errorf("unsupported frame type %q", c.FrameType)
	}
	return nil
}

// WaveformFile returns the generator-side ARB waveform path. The
// generator stores numerology in lowercase.
func (c SignalConfig) WaveformFile() string {
	n := signalNumerology[c.Bandwidth]
	return fmt.Sprintf("/var/user/Qorvo/NR5G_%s_UL_%sSCS_256QAM_%s_%s_%s.wv",
		c.Bandwidth, n.scs, n.rb, n.rbo, frameSuffixes[c.FrameType])
}

// SetupFile returns the analyzer-side saved-state path. The analyzer
// names the same numerology in uppercase and takes no extension.
func (c SignalConfig) SetupFile() string {
	n := signalNumerology[c.Bandwidth]
	return fmt.Sprintf(`C:\R_S\instr\user\Qorvo\5GNR_UL_%s_256QAM_%s_%s_%s_%s`,
		c.Bandwidth, n.scs, strings.ToUpper(n.rb), strings.ToUpper(n.rbo), frameSuffixes[c.FrameType])
}
