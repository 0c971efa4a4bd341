package app

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"

	"github.com/JarrettLiner/pa-sweep/internal/storage"
)

// ErrNoEnvelopeData indicates that the session holds no
// envelope-tracking results to render.
var ErrNoEnvelopeData = errors.New("no envelope-tracking data")

// Run reads one session back out of the database and produces the
// requested outputs: a CSV table of every measurement and, when the
// session carries envelope sweeps, a delay-by-frequency EVM heatmap.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil {
		return fmt.Errorf("database file %s: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	session, err := resolveSession(ctx, store, config.SessionID)
	if err != nil {
		return err
	}

	logger.Info("reading session",
		slog.Int64("session", session.ID),
		slog.String("created", session.CreatedAt.String()))

	records, err := readRecords(ctx, store, session.ID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("session %d holds no records", session.ID)
	}

	logger.Info("session loaded", slog.Int("records", len(records)))

	if config.CSVFile != "" {
		if err = exportCSV(config.CSVFile, session, records); err != nil {
			return err
		}
		logger.Info("CSV written", slog.String("destination", config.CSVFile))
	}

	if config.PNGFile != "" {
		err = exportHeatmap(config, session, records)
		if errors.Is(err, ErrNoEnvelopeData) {
			// A session without ET sweeps still gets its CSV; the
			// heatmap is simply skipped.
			logger.Warn("skipping heatmap", slog.Any("reason", err))
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("heatmap written",
			slog.String("destination", config.PNGFile),
			slog.String("theme", string(config.Theme)))
	}

	return nil
}

func resolveSession(ctx context.Context, store *storage.SqliteStore, id int64) (*storage.Session, error) {
	if id == 0 {
		session, err := store.LatestSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving latest session: %w", err)
		}
		return session, nil
	}

	session, err := store.Session(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolving session %d: %w", id, err)
	}
	return session, nil
}

func readRecords(ctx context.Context, store *storage.SqliteStore, sessionID int64) (records []*storage.SessionRecord, err error) {
	it, err := store.Records(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cErr := it.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	for it.Next(ctx) {
		records = append(records, it.Current())
	}
	if err = it.Err(); err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	return records, nil
}

func exportCSV(path string, session *storage.Session, records []*storage.SessionRecord) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating CSV file: %w", err)
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	if err = writeCSV(out, session, records); err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}
	return nil
}

func exportHeatmap(config *Config, session *storage.Session, records []*storage.SessionRecord) (err error) {
	data, err := NewHeatmapData(records, config.Mode)
	if err != nil {
		return err
	}

	renderer := NewHeatmapRenderer(RenderConfig{ColorTheme: config.Theme})
	img, err := renderer.Render(data, session)
	if err != nil {
		return fmt.Errorf("rendering heatmap: %w", err)
	}

	out, err := os.Create(config.PNGFile)
	if err != nil {
		return fmt.Errorf("creating heatmap file: %w", err)
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	if err = png.Encode(out, img); err != nil {
		return fmt.Errorf("encoding heatmap: %w", err)
	}
	return nil
}
