package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JarrettLiner/pa-sweep/internal/calibration"
	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

// ErrNoData indicates that the requested session or record set does not
// exist in the database.
var ErrNoData = errors.New("no data available")

// ReaderOption configures a RecordIterator with filtering criteria
type ReaderOption func(*RecordIterator)

// WithFrequencyRange keeps only records whose frequency lies in
// [minHz, maxHz]
func WithFrequencyRange(minHz, maxHz float64) ReaderOption {
	return func(it *RecordIterator) {
		it.minFreq = &minHz
		it.maxFreq = &maxHz
	}
}

// WithModes keeps only measurements of the given modes; records keep
// their row even when every measurement is filtered out
func WithModes(modes ...sweep.Mode) ReaderOption {
	return func(it *RecordIterator) {
		it.modes = make(map[sweep.Mode]struct{}, len(modes))
		for _, m := range modes {
			it.modes[m] = struct{}{}
		}
	}
}

// Session returns a session by its ID
func (s *SqliteStore) Session(ctx context.Context, id int64) (*Session, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return scanSession(db.QueryRowContext(ctx, selectSessionSQL, id))
}

// LatestSession returns the most recently created session
func (s *SqliteStore) LatestSession(ctx context.Context) (*Session, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return scanSession(db.QueryRowContext(ctx, selectLatestSessionSQL))
}

// Sessions returns every session ordered by creation time
func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess *Session
		if sess, err = scanSession(rows); err != nil {
			return
		}
		sessions = append(sessions, sess)
	}
	err = rows.Err()
	return
}

// Records creates an iterator over the frequency records of a session,
// in ascending frequency order. The iterator must be closed after use.
func (s *SqliteStore) Records(ctx context.Context, sessionID int64, opts ...ReaderOption) (*RecordIterator, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	it := &RecordIterator{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(it)
	}

	if err = it.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing record iterator: %w", err)
	}
	return it, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var row sessionRow
	if err := r.Scan(&row.ID, &row.CreatedAt, &row.Comment, &row.Config,
		&row.GeneratorID, &row.AnalyzerID, &row.SensorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess := Session{
		ID:          row.ID,
		CreatedAt:   row.CreatedAt,
		Comment:     row.Comment.String,
		GeneratorID: row.GeneratorID.String,
		AnalyzerID:  row.AnalyzerID.String,
		SensorID:    row.SensorID.String,
	}
	if row.Config.Valid {
		sess.Config = &row.Config.String
	}
	return &sess, nil
}

// RecordIterator iterates the frequency records of one session. Each
// Next loads the record row plus its measurements and envelope results.
type RecordIterator struct {
	db        *sql.DB
	sessionID int64

	minFreq *float64
	maxFreq *float64
	modes   map[sweep.Mode]struct{}

	rows    *sql.Rows
	current *SessionRecord
	err     error
}

const selectFrequencyBoundsSQL = `
SELECT COALESCE(MIN(frequency_hz), 0),
       COALESCE(MAX(frequency_hz), 0)
FROM sweep_records
WHERE session_id = ?`

func (it *RecordIterator) init(ctx context.Context) error {
	if it.minFreq == nil || it.maxFreq == nil {
		var minFreq, maxFreq float64
		if err := it.db.QueryRowContext(ctx, selectFrequencyBoundsSQL, it.sessionID).
			Scan(&minFreq, &maxFreq); err != nil {
			return fmt.Errorf("querying frequency bounds: %w", err)
		}
		if it.minFreq == nil {
			it.minFreq = &minFreq
		}
		if it.maxFreq == nil {
			it.maxFreq = &maxFreq
		}
	}

	rows, err := it.db.QueryContext(ctx, selectRecordsSQL, it.sessionID, *it.minFreq, *it.maxFreq)
	if err != nil {
		return fmt.Errorf("querying records: %w", err)
	}

	it.rows = rows
	return nil
}

// Next advances to the next record, returning false at the end of the
// set or on error
func (it *RecordIterator) Next(ctx context.Context) bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}

	var row recordRow
	if it.err = it.rows.Scan(&row.ID, &row.FrequencyHz, &row.FreqGHz,
		&row.VSGOffset, &row.VSAOffset, &row.InputOffset, &row.OutputOffset,
		&row.SetupTimeUs, &row.TotalTimeUs, &row.Comment); it.err != nil {
		return false
	}

	record := SessionRecord{
		ID: row.ID,
		Record: sweep.Record{
			Point: calibration.Point{
				FreqHz:  row.FrequencyHz,
				FreqGHz: row.FreqGHz,
				Offsets: calibration.Offsets{
					VSG:    row.VSGOffset,
					VSA:    row.VSAOffset,
					Input:  row.InputOffset,
					Output: row.OutputOffset,
				},
			},
			SetupTime: time.Duration(row.SetupTimeUs) * time.Microsecond,
			TotalTime: time.Duration(row.TotalTimeUs) * time.Microsecond,
			Comment:   row.Comment.String,
		},
	}

	if it.err = it.loadMeasurements(ctx, &record); it.err != nil {
		return false
	}

	it.current = &record
	return true
}

func (it *RecordIterator) loadMeasurements(ctx context.Context, record *SessionRecord) (err error) {
	rows, err := it.db.QueryContext(ctx, selectMeasurementsSQL, record.ID)
	if err != nil {
		return fmt.Errorf("querying measurements: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var row measurementRow
		if err = rows.Scan(&row.Mode, &row.OutputPower, &row.EVM, &row.ChannelPower,
			&row.ACLRLower, &row.ACLRUpper, &row.InputPower,
			&row.ExtIterations, &row.IntIterations, &row.Converged,
			&row.SettleUs, &row.Timings); err != nil {
			return fmt.Errorf("scanning measurement: %w", err)
		}

		m, mErr := toMeasurement(row)
		if mErr != nil {
			return mErr
		}
		if it.skipMode(m.Mode) {
			continue
		}
		record.Measurements = append(record.Measurements, m)
	}
	if err = rows.Err(); err != nil {
		return err
	}

	return it.loadETResults(ctx, record)
}

func (it *RecordIterator) loadETResults(ctx context.Context, record *SessionRecord) (err error) {
	rows, err := it.db.QueryContext(ctx, selectETResultsSQL, record.ID)
	if err != nil {
		return fmt.Errorf("querying envelope results: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var row etRow
		if err = rows.Scan(&row.Mode, &row.Delays, &row.EVMs, &row.TotalUs); err != nil {
			return fmt.Errorf("scanning envelope result: %w", err)
		}

		mode, et, etErr := toETResult(row)
		if etErr != nil {
			return etErr
		}
		if it.skipMode(mode) {
			continue
		}

		for i := range record.Measurements {
			if record.Measurements[i].Mode == mode {
				record.Measurements[i].ET = et
				break
			}
		}
	}
	return rows.Err()
}

func (it *RecordIterator) skipMode(mode sweep.Mode) bool {
	if it.modes == nil {
		return false
	}
	_, ok := it.modes[mode]
	return !ok
}

// Current returns the record loaded by the last successful Next
func (it *RecordIterator) Current() *SessionRecord {
	return it.current
}

// Err returns the error that stopped the iteration, if any
func (it *RecordIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

// Close releases the iterator's database resources
func (it *RecordIterator) Close() error {
	return it.rows.Close()
}
