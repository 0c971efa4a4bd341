package calibration

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Column names of a bench calibration table
const (
	colFrequency = "Center Frequency (GHz)"
	colVSG       = "VSG Offset (dB)"
	colVSA       = "VSA Offset (dB)"
	colInput     = "Input Power Offset (dB)"
	colOutput    = "Output Power Offset (dB)"
)

// Offsets are the per-frequency cable and coupler corrections applied to
// the bench instruments
type Offsets struct {
	VSG    float64 // generator level offset, dB
	VSA    float64 // analyzer reference level offset, dB
	Input  float64 // sensor input channel offset, dB
	Output float64 // sensor output channel offset, dB
}

// Point is one calibrated frequency point of a sweep
type Point struct {
	FreqHz  float64
	FreqGHz float64 // rounded to 3 decimals, the table key
	Offsets
}

// Table maps rounded GHz frequencies to calibration offsets
type Table struct {
	points map[float64]Offsets
}

// RoundGHz converts a frequency in Hz to the table key: GHz rounded to
// three decimal places (1 MHz resolution)
func RoundGHz(freqHz float64) float64 {
	return math.Round(freqHz/1e9*1000) / 1000
}

// Load reads a calibration table from a CSV file
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening calibration table: %w", err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading calibration table %s: %w", path, err)
	}

	return t, nil
}

// Read parses a calibration table in CSV form. The header row must carry
// the five known columns; column order does not matter and extra columns
// are ignored. Any malformed cell fails the whole table.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	columns := []string{colFrequency, colVSG, colVSA, colInput, colOutput}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, name := range columns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	points := make(map[float64]Offsets)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		fields := make(map[string]float64, len(columns))
		for _, name := range columns {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[index[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: parsing %q: %w", line, name, err)
			}
			fields[name] = v
		}

		key := math.Round(fields[colFrequency]*1000) / 1000
		points[key] = Offsets{
			VSG:    fields[colVSG],
			VSA:    fields[colVSA],
			Input:  fields[colInput],
			Output: fields[colOutput],
		}
	}

	return &Table{points: points}, nil
}

// Lookup resolves the calibration point for a frequency in Hz. A missing
// entry returns ok=false; the caller decides whether that skips the
// frequency or aborts.
func (t *Table) Lookup(freqHz float64) (Point, bool) {
	key := RoundGHz(freqHz)

	offsets, ok := t.points[key]
	if !ok {
		return Point{}, false
	}

	return Point{FreqHz: freqHz, FreqGHz: key, Offsets: offsets}, true
}

// Len returns the number of calibrated frequency points
func (t *Table) Len() int {
	return len(t.points)
}
