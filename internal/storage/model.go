package storage

import (
	"database/sql"
	"time"

	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

// SessionMeta is everything written into a session row besides its
// timestamp: the run comment, the YAML configuration snapshot and the
// *IDN? strings of the three bench instruments.
type SessionMeta struct {
	Comment     string
	Config      string
	GeneratorID string
	AnalyzerID  string
	SensorID    string
}

// Session is one sweeper run as read back from the database
type Session struct {
	ID          int64
	CreatedAt   time.Time
	Comment     string
	Config      *string
	GeneratorID string
	AnalyzerID  string
	SensorID    string
}

// SessionRecord is one frequency record read back from the database:
// the sweep-side record plus its row ID
type SessionRecord struct {
	ID int64
	sweep.Record
}

// row scan targets; nullable columns stay sql.Null* until mapped

type sessionRow struct {
	ID          int64
	CreatedAt   time.Time
	Comment     sql.NullString
	Config      sql.NullString
	GeneratorID sql.NullString
	AnalyzerID  sql.NullString
	SensorID    sql.NullString
}

type recordRow struct {
	ID           int64
	FrequencyHz  float64
	FreqGHz      float64
	VSGOffset    float64
	VSAOffset    float64
	InputOffset  float64
	OutputOffset float64
	SetupTimeUs  int64
	TotalTimeUs  int64
	Comment      sql.NullString
}

type measurementRow struct {
	Mode          string
	OutputPower   sql.NullFloat64
	EVM           sql.NullFloat64
	ChannelPower  sql.NullFloat64
	ACLRLower     sql.NullFloat64
	ACLRUpper     sql.NullFloat64
	InputPower    sql.NullFloat64
	ExtIterations sql.NullInt64
	IntIterations sql.NullInt64
	Converged     bool
	SettleUs      int64
	Timings       sql.NullString
}

type etRow struct {
	Mode    string
	Delays  string
	EVMs    string
	TotalUs int64
}
