package app

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/JarrettLiner/pa-sweep/internal/storage"
)

const (
	dpi            = 120.0
	fontSize       = 11.0
	tickMarkLength = 5
)

type annotatorConfig struct {
	FontSize float64
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, data *HeatmapData, session *storage.Session, bounds EVMBounds) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawDelayScale(img, data); err != nil {
		return fmt.Errorf("drawing delay scale: %w", err)
	}
	if err := a.drawFrequencyScale(img, data); err != nil {
		return fmt.Errorf("drawing frequency scale: %w", err)
	}
	if err := a.drawInfoBar(img, data, session, bounds); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}

	return nil
}

// drawDelayScale labels the column axis with envelope delays in
// nanoseconds, one label per cell, thinned out when cells are narrow
func (a *annotator) drawDelayScale(img *image.RGBA, data *HeatmapData) error {
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()
	textY := topBorder - tickMarkLength - fontHeight/2

	// Label every n-th column so neighbors never overlap
	every := 1
	if sample := formatDelay(data.Delays[len(data.Delays)-1]); font.MeasureString(a.fontFace, sample).Round() > cellWidth-4 {
		every = 2
	}

	for i, delay := range data.Delays {
		if i%every != 0 {
			continue
		}

		x := leftBorder + i*cellWidth + cellWidth/2

		for y := topBorder - tickMarkLength; y < topBorder; y++ {
			img.Set(x, y, color.Black)
		}

		label := formatDelay(delay)
		width := font.MeasureString(a.fontFace, label)
		if _, err := a.context.DrawString(label, freetype.Pt(x-width.Round()/2, textY)); err != nil {
			return fmt.Errorf("drawing delay label: %w", err)
		}
	}
	return nil
}

// drawFrequencyScale labels the row axis with the record frequencies
func (a *annotator) drawFrequencyScale(img *image.RGBA, data *HeatmapData) error {
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	for i, freq := range data.Frequencies {
		y := topBorder + i*cellHeight + cellHeight/2

		for x := leftBorder - tickMarkLength; x < leftBorder; x++ {
			img.Set(x, y, color.Black)
		}

		textY := y + fontHeight/2 - metrics.Descent.Round()
		label := formatFrequency(freq)
		if _, err := a.context.DrawString(label, freetype.Pt(8, textY)); err != nil {
			return fmt.Errorf("drawing frequency label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, data *HeatmapData, session *storage.Session, bounds EVMBounds) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Mode: %s", data.Mode))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("EVM: %.0f to %.0f dB", bounds.Min, bounds.Max))

	if session != nil {
		sb.WriteString("; ")
		sb.WriteString(fmt.Sprintf("Session %d, %s", session.ID, session.CreatedAt.Format("2006-01-02 15:04")))
		if session.Comment != "" {
			sb.WriteString("; ")
			sb.WriteString(session.Comment)
		}
	}

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()
	textY := img.Bounds().Max.Y - (bottomBorder-fontHeight)/2 - metrics.Descent.Round()

	if _, err := a.context.DrawString(sb.String(), freetype.Pt(leftBorder, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

func formatDelay(seconds float64) string {
	return fmt.Sprintf("%.1fns", seconds*1e9)
}

func formatFrequency(freqHz float64) string {
	value, prefix := humanize.ComputeSI(freqHz)
	return fmt.Sprintf("%.3f %sHz", value, prefix)
}
