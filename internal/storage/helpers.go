package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError is a no-op after a successful commit
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

// toNullInt maps a zero iteration count to NULL: a servo variant that
// never ran leaves no count behind
func toNullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// marshalTimings stores per-stage durations as a JSON map of stage name
// to microseconds
func marshalTimings(timings map[string]time.Duration) (sql.NullString, error) {
	if len(timings) == 0 {
		return sql.NullString{}, nil
	}

	us := make(map[string]int64, len(timings))
	for stage, d := range timings {
		us[stage] = d.Microseconds()
	}

	p, err := json.Marshal(us)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling timings: %w", err)
	}
	return sql.NullString{String: string(p), Valid: true}, nil
}

func unmarshalTimings(data sql.NullString) (map[string]time.Duration, error) {
	if !data.Valid {
		return nil, nil
	}

	var us map[string]int64
	if err := json.Unmarshal([]byte(data.String), &us); err != nil {
		return nil, fmt.Errorf("unmarshaling timings: %w", err)
	}

	timings := make(map[string]time.Duration, len(us))
	for stage, v := range us {
		timings[stage] = time.Duration(v) * time.Microsecond
	}
	return timings, nil
}

func marshalFloats(values []float64) (string, error) {
	p, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling samples: %w", err)
	}
	return string(p), nil
}

func unmarshalFloats(data string) ([]float64, error) {
	var values []float64
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("unmarshaling samples: %w", err)
	}
	return values, nil
}

func toMeasurement(row measurementRow) (sweep.Measurement, error) {
	mode, err := sweep.ParseMode(row.Mode)
	if err != nil {
		return sweep.Measurement{}, err
	}

	timings, err := unmarshalTimings(row.Timings)
	if err != nil {
		return sweep.Measurement{}, err
	}

	return sweep.Measurement{
		Mode:         mode,
		OutputPower:  row.OutputPower.Float64,
		EVM:          row.EVM.Float64,
		ChannelPower: row.ChannelPower.Float64,
		ACLRLower:    row.ACLRLower.Float64,
		ACLRUpper:    row.ACLRUpper.Float64,
		Servo: sweep.ServoOutcome{
			InputPower:         row.InputPower.Float64,
			ExternalIterations: int(row.ExtIterations.Int64),
			InternalIterations: int(row.IntIterations.Int64),
			Converged:          row.Converged,
			SettleTime:         time.Duration(row.SettleUs) * time.Microsecond,
		},
		Timings: timings,
	}, nil
}

func toETResult(row etRow) (sweep.Mode, *sweep.ETResult, error) {
	mode, err := sweep.ParseMode(row.Mode)
	if err != nil {
		return 0, nil, err
	}

	delays, err := unmarshalFloats(row.Delays)
	if err != nil {
		return 0, nil, fmt.Errorf("envelope delays: %w", err)
	}
	evms, err := unmarshalFloats(row.EVMs)
	if err != nil {
		return 0, nil, fmt.Errorf("envelope EVMs: %w", err)
	}

	return mode, &sweep.ETResult{
		Delays: delays,
		EVMs:   evms,
		Total:  time.Duration(row.TotalUs) * time.Microsecond,
	}, nil
}
