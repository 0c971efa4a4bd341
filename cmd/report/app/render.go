package app

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/JarrettLiner/pa-sweep/internal/storage"
	"github.com/JarrettLiner/pa-sweep/internal/sweep"
)

const (
	cellWidth  = 32 // pixels per delay step
	cellHeight = 20 // pixels per frequency row

	// Border sizes in pixels
	topBorder    = 50
	leftBorder   = 90
	bottomBorder = 50
	rightBorder  = 40
)

// HeatmapData is the envelope-tracking EVM grid of one session and one
// correction mode: a row per frequency, a column per delay step.
type HeatmapData struct {
	Mode        sweep.Mode
	Delays      []float64 // seconds, column axis
	Frequencies []float64 // Hz, row axis, ascending
	EVMs        [][]float64
	Histogram   *EVMHistogram
}

// NewHeatmapData collects the envelope results for one mode out of the
// session records. With mode empty, the first mode carrying envelope
// data is used. Returns ErrNoEnvelopeData when nothing matches.
func NewHeatmapData(records []*storage.SessionRecord, mode string) (*HeatmapData, error) {
	selected, err := selectMode(records, mode)
	if err != nil {
		return nil, err
	}

	data := HeatmapData{
		Mode:      selected,
		Histogram: NewEVMHistogram(),
	}

	for _, record := range records {
		for _, m := range record.Measurements {
			if m.Mode != selected || m.ET == nil {
				continue
			}

			if len(m.ET.Delays) > len(data.Delays) {
				data.Delays = m.ET.Delays
			}

			data.Frequencies = append(data.Frequencies, record.Point.FreqHz)
			data.EVMs = append(data.EVMs, m.ET.EVMs)

			for _, evm := range m.ET.EVMs {
				data.Histogram.Update(evm)
			}
		}
	}

	if len(data.EVMs) == 0 {
		return nil, fmt.Errorf("%w for mode %s", ErrNoEnvelopeData, selected)
	}
	return &data, nil
}

func selectMode(records []*storage.SessionRecord, mode string) (sweep.Mode, error) {
	if mode != "" {
		return sweep.ParseMode(mode)
	}

	for _, record := range records {
		for _, m := range record.Measurements {
			if m.ET != nil {
				return m.Mode, nil
			}
		}
	}
	return 0, ErrNoEnvelopeData
}

// Width returns the grid width in pixels
func (d *HeatmapData) Width() int {
	return len(d.Delays) * cellWidth
}

// Height returns the grid height in pixels
func (d *HeatmapData) Height() int {
	return len(d.Frequencies) * cellHeight
}

// RenderConfig holds the heatmap visualization options
type RenderConfig struct {
	ColorTheme ColorTheme
	FontSize   float64 // points, 0 for default
}

// HeatmapRenderer turns a HeatmapData grid into an annotated image
type HeatmapRenderer struct {
	config RenderConfig
}

func NewHeatmapRenderer(config RenderConfig) *HeatmapRenderer {
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	return &HeatmapRenderer{config: config}
}

// Render draws the grid with its delay and frequency scales and an
// info bar
func (r *HeatmapRenderer) Render(data *HeatmapData, session *storage.Session) (*image.RGBA, error) {
	fullWidth := data.Width() + leftBorder + rightBorder
	fullHeight := data.Height() + topBorder + bottomBorder
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	gridArea := image.Rect(leftBorder, topBorder, leftBorder+data.Width(), topBorder+data.Height())

	bounds := data.Histogram.Bounds()
	mapper := NewColorMapper(r.config.ColorTheme, bounds)

	ann, err := newAnnotator(annotatorConfig{FontSize: r.config.FontSize})
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	if err = ann.annotate(img, data, session, bounds); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}

	r.renderGrid(img, gridArea, data, mapper)

	return img, nil
}

// renderGrid fills the heatmap cells. A missing cell (a sweep that
// produced fewer samples than the widest row) stays white.
func (r *HeatmapRenderer) renderGrid(img *image.RGBA, area image.Rectangle, data *HeatmapData, mapper *ColorMapper) {
	for row, evms := range data.EVMs {
		for col, evm := range evms {
			if math.IsNaN(evm) {
				continue
			}

			c := mapper.GetColor(evm)
			cell := image.Rect(
				area.Min.X+col*cellWidth,
				area.Min.Y+row*cellHeight,
				area.Min.X+(col+1)*cellWidth,
				area.Min.Y+(row+1)*cellHeight,
			)
			draw.Draw(img, cell, image.NewUniform(c), image.Point{}, draw.Src)
		}
	}
}
