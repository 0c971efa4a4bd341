package calibration

import (
	"strings"
	"testing"
)

const sampleHeader = "Center Frequency (GHz),VSG Offset (dB),VSA Offset (dB),Input Power Offset (dB),Output Power Offset (dB)\n"

const sampleTable = sampleHeader +
	"2.05,1.25,13.50,37.25,13.60\n" +
	"2.10,1.30,13.55,37.30,13.65\n" +
	"5.90,2.10,14.80,38.90,14.90\n"

func TestRead(t *testing.T) {
	tbl, err := Read(strings.NewReader(sampleTable))
	if err != nil {
		t.Fatalf("Failed to read table: %v", err)
	}

	if tbl.Len() != 3 {
		t.Errorf("Expected 3 points, got %d", tbl.Len())
	}

	p, ok := tbl.Lookup(2.05e9)
	if !ok {
		t.Fatal("Expected 2.05 GHz to resolve")
	}
	if p.FreqHz != 2.05e9 {
		t.Errorf("Expected FreqHz 2.05e9, got %v", p.FreqHz)
	}
	if p.FreqGHz != 2.05 {
		t.Errorf("Expected FreqGHz 2.05, got %v", p.FreqGHz)
	}

	expected := Offsets{VSG: 1.25, VSA: 13.50, Input: 37.25, Output: 13.60}
	if p.Offsets != expected {
		t.Errorf("Expected offsets %+v, got %+v", expected, p.Offsets)
	}
}

func TestLookupMiss(t *testing.T) {
	// Table calibrated at 2.05 and 2.10 GHz only; 2.0 GHz has no row and
	// must miss rather than snap to a neighbour.
	tbl, err := Read(strings.NewReader(sampleTable))
	if err != nil {
		t.Fatalf("Failed to read table: %v", err)
	}

	if _, ok := tbl.Lookup(2.0e9); ok {
		t.Error("Expected 2.0 GHz to miss")
	}

	for _, freqHz := range []float64{2.05e9, 2.1e9, 5.9e9} {
		if _, ok := tbl.Lookup(freqHz); !ok {
			t.Errorf("Expected %.2f GHz to resolve", freqHz/1e9)
		}
	}
}

func TestLookupRounding(t *testing.T) {
	tbl, err := Read(strings.NewReader(sampleTable))
	if err != nil {
		t.Fatalf("Failed to read table: %v", err)
	}

	// Sub-MHz off 2.10 GHz still resolves to the 2.10 row
	p, ok := tbl.Lookup(2.0999999e9)
	if !ok {
		t.Fatal("Expected 2.0999999 GHz to round onto the 2.10 row")
	}
	if p.FreqGHz != 2.1 {
		t.Errorf("Expected key 2.1, got %v", p.FreqGHz)
	}

	// More than half a MHz away rounds to an uncalibrated key
	if _, ok := tbl.Lookup(2.1006e9); ok {
		t.Error("Expected 2.1006 GHz to miss")
	}
}

func TestReadErrors(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"empty input", ""},
		{"missing column", "Center Frequency (GHz),VSG Offset (dB)\n2.05,1.25\n"},
		{"non-numeric cell", sampleHeader + "2.05,oops,13.50,37.25,13.60\n"},
		{"ragged row", sampleHeader + "2.05,1.25\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tc.data)); err == nil {
				t.Error("Expected error for malformed table")
			}
		})
	}
}

func TestReadEmptyTable(t *testing.T) {
	tbl, err := Read(strings.NewReader(sampleHeader))
	if err != nil {
		t.Fatalf("Failed to read header-only table: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("Expected empty table, got %d points", tbl.Len())
	}
	if _, ok := tbl.Lookup(2.05e9); ok {
		t.Error("Expected lookup on empty table to miss")
	}
}
