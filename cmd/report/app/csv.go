package app

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JarrettLiner/pa-sweep/internal/storage"
	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

var csvHeader = []string{
	"Frequency (GHz)",
	"Mode",
	"Output Power (dBm)",
	"EVM (dB)",
	"Channel Power (dBm)",
	"ACLR Lower (dB)",
	"ACLR Upper (dB)",
	"Input Power (dBm)",
	"Servo Iterations (ext)",
	"Servo Iterations (int)",
	"Servo Converged",
	"Servo Settle (s)",
	"Training (s)",
	"EVM Measure (s)",
	"ACLR Measure (s)",
	"Setup (s)",
	"Frequency Total (s)",
	"ET Total (s)",
	"ET Delays (ns)",
	"ET EVMs (dB)",
	"Comment",
}

// Numeric columns the statistics block summarizes
var statColumns = map[int]struct{}{
	2:  {}, // output power
	3:  {}, // EVM
	4:  {}, // channel power
	5:  {}, // ACLR lower
	6:  {}, // ACLR upper
	7:  {}, // input power
	8:  {}, // servo iterations (ext)
	9:  {}, // servo iterations (int)
	11: {}, // servo settle
	12: {}, // training
	13: {}, // EVM measure
	14: {}, // ACLR measure
	15: {}, // setup
	16: {}, // frequency total
	17: {}, // ET total
}

// Time columns keep the data rows' three decimals in the statistics
var secondsColumns = map[int]struct{}{
	11: {}, 12: {}, 13: {}, 14: {}, 15: {}, 16: {}, 17: {},
}

// writeCSV writes one row per (frequency, mode) pair followed by a
// statistics block with the per-column maximum, minimum and mean.
// Modes that did not run at a frequency produce no row.
func writeCSV(w io.Writer, session *storage.Session, records []*storage.SessionRecord) error {
	cw := csv.NewWriter(w)

	if session != nil {
		if err := cw.Write([]string{"Session", strconv.FormatInt(session.ID, 10),
			session.CreatedAt.Format(time.DateTime), session.Comment}); err != nil {
			return fmt.Errorf("writing session row: %w", err)
		}
	}

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	stats := newColumnStats()

	for _, record := range records {
		for _, m := range record.Measurements {
			row := measurementRow(record, m)
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("writing row: %w", err)
			}
			stats.update(row)
		}
	}

	for _, row := range stats.rows() {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing statistics: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func measurementRow(record *storage.SessionRecord, m sweep.Measurement) []string {
	row := []string{
		formatGHz(record.Point.FreqGHz),
		m.Mode.String(),
		formatDB(m.OutputPower),
		formatDB(m.EVM),
		formatDB(m.ChannelPower),
		formatDB(m.ACLRLower),
		formatDB(m.ACLRUpper),
		formatDB(m.Servo.InputPower),
		formatCount(m.Servo.ExternalIterations),
		formatCount(m.Servo.InternalIterations),
		strconv.FormatBool(m.Servo.Converged),
		formatSeconds(m.Servo.SettleTime),
		formatSeconds(m.Timings[sweep.TimingTraining]),
		formatSeconds(m.Timings[sweep.TimingEVM]),
		formatSeconds(m.Timings[sweep.TimingACLR]),
		formatSeconds(record.SetupTime),
		formatSeconds(record.TotalTime),
	}

	if m.ET != nil {
		row = append(row,
			formatSeconds(m.ET.Total),
			joinFloats(m.ET.Delays, 1e9),
			joinFloats(m.ET.EVMs, 1))
	} else {
		row = append(row, "", "", "")
	}

	return append(row, record.Comment)
}

type columnStats struct {
	min   map[int]float64
	max   map[int]float64
	sum   map[int]float64
	count map[int]int
}

func newColumnStats() *columnStats {
	return &columnStats{
		min:   make(map[int]float64),
		max:   make(map[int]float64),
		sum:   make(map[int]float64),
		count: make(map[int]int),
	}
}

func (s *columnStats) update(row []string) {
	for col := range statColumns {
		v, err := strconv.ParseFloat(row[col], 64)
		if err != nil {
			continue
		}

		if s.count[col] == 0 {
			s.min[col] = v
			s.max[col] = v
		} else {
			s.min[col] = math.Min(s.min[col], v)
			s.max[col] = math.Max(s.max[col], v)
		}
		s.sum[col] += v
		s.count[col]++
	}
}

func (s *columnStats) rows() [][]string {
	if len(s.count) == 0 {
		return nil
	}

	blank := make([]string, len(csvHeader))
	maxRow := statRow("Maximum")
	minRow := statRow("Minimum")
	meanRow := statRow("Mean")

	for col := range statColumns {
		if s.count[col] == 0 {
			continue
		}
		maxRow[col] = formatStat(col, s.max[col])
		minRow[col] = formatStat(col, s.min[col])
		meanRow[col] = formatStat(col, s.sum[col]/float64(s.count[col]))
	}

	return [][]string{blank, maxRow, minRow, meanRow}
}

func formatStat(col int, v float64) string {
	if _, ok := secondsColumns[col]; ok {
		return strconv.FormatFloat(v, 'f', 3, 64)
	}
	return formatDB(v)
}

func statRow(label string) []string {
	row := make([]string, len(csvHeader))
	row[0] = label
	return row
}

func formatGHz(ghz float64) string {
	return strconv.FormatFloat(ghz, 'f', 3, 64)
}

func formatDB(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatCount(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func formatSeconds(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func joinFloats(values []float64, scale float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v*scale, 'f', 2, 64)
	}
	return strings.Join(parts, " ")
}
