package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

// SqliteStore implements Store on a single sqlite file. Connections are
// opened lazily: the write handle initializes the schema on first use,
// the read handle opens the file read-only.
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the sqlite database at dbPath.
// The file is created on the first write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateSession inserts a new session row and returns its ID
func (s *SqliteStore) CreateSession(ctx context.Context, meta SessionMeta) (sessionID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx,
		toNullString(meta.Comment),
		toNullString(meta.Config),
		toNullString(meta.GeneratorID),
		toNullString(meta.AnalyzerID),
		toNullString(meta.SensorID),
	)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
	}
	return
}

// StoreRecord persists one frequency record with its measurements and
// envelope sweeps in a single transaction
func (s *SqliteStore) StoreRecord(ctx context.Context, sessionID int64, record *sweep.Record) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	result, err := tx.ExecContext(ctx, insertRecordSQL,
		sessionID,
		record.Point.FreqHz,
		record.Point.FreqGHz,
		record.Point.VSG,
		record.Point.VSA,
		record.Point.Input,
		record.Point.Output,
		record.SetupTime.Microseconds(),
		record.TotalTime.Microseconds(),
		toNullString(record.Comment),
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}

	recordID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting record ID: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertMeasurementSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	etStmt, err := tx.PrepareContext(ctx, insertETResultSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(etStmt, &err)

	for _, m := range record.Measurements {
		timings, tErr := marshalTimings(m.Timings)
		if tErr != nil {
			return tErr
		}

		if _, err = stmt.ExecContext(ctx,
			recordID,
			m.Mode.String(),
			m.OutputPower,
			m.EVM,
			m.ChannelPower,
			m.ACLRLower,
			m.ACLRUpper,
			m.Servo.InputPower,
			toNullInt(m.Servo.ExternalIterations),
			toNullInt(m.Servo.InternalIterations),
			m.Servo.Converged,
			m.Servo.SettleTime.Microseconds(),
			timings,
		); err != nil {
			return fmt.Errorf("inserting %s measurement: %w", m.Mode, err)
		}

		if m.ET == nil {
			continue
		}

		delays, mErr := marshalFloats(m.ET.Delays)
		if mErr != nil {
			return fmt.Errorf("envelope delays: %w", mErr)
		}
		evms, mErr := marshalFloats(m.ET.EVMs)
		if mErr != nil {
			return fmt.Errorf("envelope EVMs: %w", mErr)
		}

		if _, err = etStmt.ExecContext(ctx,
			recordID,
			m.Mode.String(),
			delays,
			evms,
			m.ET.Total.Microseconds(),
		); err != nil {
			return fmt.Errorf("inserting %s envelope result: %w", m.Mode, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Close builds the read indexes over whatever was written and releases
// both connections. Safe to call more than once.
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}
