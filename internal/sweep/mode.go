package sweep

import "fmt"

// Mode identifies one correction technique applied to the amplifier
// before a measurement. Modes run in the declaration order below;
// baseline always runs first so every record carries an uncorrected
// reference.
type Mode int

const (
	ModeBaseline Mode = iota
	ModePolynomial
	ModeDirect
	ModeGMP
)

var modeNames = map[Mode]string{
	ModeBaseline:   "baseline",
	ModePolynomial: "polynomial",
	ModeDirect:     "direct",
	ModeGMP:        "gmp",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode resolves a mode by its storage name
func ParseMode(name string) (Mode, error) {
	for mode, n := range modeNames {
		if n == name {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrConfiguration, name)
}

// Modes returns every mode in execution order
func Modes() []Mode {
	return []Mode{ModeBaseline, ModePolynomial, ModeDirect, ModeGMP}
}
