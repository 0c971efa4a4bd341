package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/JarrettLiner/pa-sweep/internal/bench"
	"github.com/JarrettLiner/pa-sweep/internal/calibration"
	"github.com/JarrettLiner/pa-sweep/internal/storage"
	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

const storageDir = "data"

// Run wires the calibration table, instrument bench, session store and
// sweep driver together and executes one sweep. The bench and the store
// are released on every exit path; records finished before a failure
// are already persisted by the driver's sink.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	table, err := calibration.Load(config.Calibration)
	if err != nil {
		return err
	}
	if table.Len() == 0 {
		return fmt.Errorf("calibration table %s holds no frequency points", config.Calibration)
	}

	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}
	defer store.Close()

	b, err := bench.Open(config.BenchConfig(), bench.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("opening bench: %w", err)
	}
	// The driver owns the bench from here and closes it when Run returns.

	sessionID, err := createSession(ctx, store, config, b.Identity())
	if err != nil {
		_ = b.Close()
		return err
	}

	driver, err := sweep.NewDriver(config.SweepConfig(), b, table,
		sweep.WithLogger(logger),
		sweep.WithRecordSink(func(record *sweep.Record) error {
			return store.StoreRecord(ctx, sessionID, record)
		}))
	if err != nil {
		_ = b.Close()
		return err
	}

	start := time.Now()

	records, err := driver.Run(ctx)
	if err != nil {
		logger.Error("sweep aborted",
			slog.Int("records", len(records)),
			slog.Duration("after", time.Since(start)))
		return err
	}

	logger.Info("session complete",
		slog.Int64("session", sessionID),
		slog.Int("records", len(records)),
		slog.String("from", formatHz(config.Sweep.StartHz)),
		slog.String("to", formatHz(config.Sweep.StopHz)),
		slog.Duration("took", time.Since(start)))

	return nil
}

func createSession(ctx context.Context, store storage.Store, config *Config, id bench.Identity) (int64, error) {
	snapshot, err := yaml.Marshal(config)
	if err != nil {
		return 0, fmt.Errorf("marshaling configuration snapshot: %w", err)
	}

	sessionID, err := store.CreateSession(ctx, storage.SessionMeta{
		Comment:     config.Comment,
		Config:      string(snapshot),
		GeneratorID: id.Generator,
		AnalyzerID:  id.Analyzer,
		SensorID:    id.Sensor,
	})
	if err != nil {
		return 0, fmt.Errorf("creating session: %w", err)
	}
	return sessionID, nil
}

func createStorage(config *StorageConfig) (storage.Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current working directory: %w", err)
	}

	dir := config.DataDirectory
	if dir == "" {
		dir = storageDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("storage directory %s: %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory %s", dir)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("pa_session_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), nil
}

func formatHz(freqHz float64) string {
	value, prefix := humanize.ComputeSI(freqHz)
	return fmt.Sprintf("%.2f %sHz", value, prefix)
}
