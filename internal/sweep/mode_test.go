package sweep

import (
	"errors"
	"testing"
)

func TestModesOrder(t *testing.T) {
	modes := Modes()

	expected := []Mode{ModeBaseline, ModePolynomial, ModeDirect, ModeGMP}
	if len(modes) != len(expected) {
		t.Fatalf("Expected %d modes, got %d", len(expected), len(modes))
	}
	for i, mode := range expected {
		if modes[i] != mode {
			t.Errorf("Mode %d: expected %s, got %s", i, mode, modes[i])
		}
	}

	for i := 1; i < len(modes); i++ {
		if modes[i-1] >= modes[i] {
			t.Errorf("Modes not strictly ordered: %s before %s", modes[i-1], modes[i])
		}
	}
}

func TestParseMode(t *testing.T) {
	for _, mode := range Modes() {
		parsed, err := ParseMode(mode.String())
		if err != nil {
			t.Errorf("Failed to parse %q: %v", mode.String(), err)
		}
		if parsed != mode {
			t.Errorf("Expected %s, got %s", mode, parsed)
		}
	}

	if _, err := ParseMode("bogus"); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestModeString(t *testing.T) {
	if got := ModeDirect.String(); got != "direct" {
		t.Errorf("Expected direct, got %q", got)
	}
	if got := Mode(9).String(); got != "mode(9)" {
		t.Errorf("Expected mode(9), got %q", got)
	}
}
