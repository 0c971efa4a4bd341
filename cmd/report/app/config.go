package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config drives one report run: which session database to read and
// which outputs to produce. At least one of CSVFile and PNGFile must be
// set; the heatmap additionally needs envelope results in the session.
type Config struct {
	DBPath    string
	SessionID int64 // 0 selects the latest session
	CSVFile   string
	PNGFile   string
	Theme     ColorTheme
	Mode      string // correction mode for the heatmap, empty = first with envelope data
}

func NewConfig() *Config {
	return &Config{
		Theme: ThermalTheme,
	}
}

// NewConfigFromCLI parses and validates the report command line
func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	var theme string
	flag.StringVar(&c.DBPath, "db", "", "Path to the session database file")
	flag.Int64Var(&c.SessionID, "s", 0, "Session ID (default: latest session)")
	flag.StringVar(&c.CSVFile, "csv", "", "Path to the CSV output file")
	flag.StringVar(&c.PNGFile, "png", "", "Path to the envelope heatmap PNG file")
	flag.StringVar(&theme, "theme", string(ThermalTheme), "Heatmap color theme. [classic, grayscale, thermal]")
	flag.StringVar(&c.Mode, "mode", "", "Correction mode for the heatmap (default: first mode with envelope data)")
	flag.Parse()

	theme = strings.ToLower(theme)

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.SessionID < 0 {
		err = errors.New("session id must be positive")
	} else if c.CSVFile == "" && c.PNGFile == "" {
		err = errors.New("at least one of -csv and -png is required")
	} else if _, ok := validThemes[ColorTheme(theme)]; !ok {
		err = fmt.Errorf("invalid color theme: %s", theme)
	}

	if err != nil {
		flag.Usage()
		return nil, err
	}

	c.Theme = ColorTheme(theme)
	return c, nil
}
