package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme selects the color scheme of the EVM heatmap
type ColorTheme string

const (
	ClassicTheme   ColorTheme = "classic"   // blue to red
	GrayscaleTheme ColorTheme = "grayscale" // black to white
	ThermalTheme   ColorTheme = "thermal"   // black to red to yellow

	defaultColorMapSize = 256
)

var validThemes = map[ColorTheme]struct{}{
	ClassicTheme:   {},
	GrayscaleTheme: {},
	ThermalTheme:   {},
}

const (
	defaultMinEVM = -60.0 // dB
	defaultMaxEVM = -20.0 // dB

	// With fewer samples the 5/95 percentiles are meaningless and the
	// default bounds are used instead.
	minimumSampleCount = 20
)

// EVMBounds is the color scale range of a heatmap in dB
type EVMBounds struct {
	Min float64
	Max float64
}

func defaultEVMBounds() EVMBounds {
	return EVMBounds{Min: defaultMinEVM, Max: defaultMaxEVM}
}

// EVMHistogram accumulates EVM samples in 1 dB bins and derives
// percentile-based color bounds, so a single outlier sample does not
// stretch the whole scale
type EVMHistogram struct {
	bins       map[int]uint32
	totalCount uint64
	minBin     int
	maxBin     int
}

func NewEVMHistogram() *EVMHistogram {
	return &EVMHistogram{
		bins:   make(map[int]uint32),
		minBin: math.MaxInt32,
		maxBin: math.MinInt32,
	}
}

// Update adds one EVM sample
func (h *EVMHistogram) Update(evm float64) {
	bin := int(math.Floor(evm))

	h.bins[bin]++
	h.totalCount++

	if bin < h.minBin {
		h.minBin = bin
	}
	if bin > h.maxBin {
		h.maxBin = bin
	}
}

// Bounds returns the 5th..95th percentile range with a 10% margin,
// widened to at least 6 dB so near-constant data still shows contrast
func (h *EVMHistogram) Bounds() EVMBounds {
	if h.totalCount < minimumSampleCount {
		if h.totalCount > 0 {
			return EVMBounds{Min: float64(h.minBin) - 1, Max: float64(h.maxBin) + 1}
		}
		return defaultEVMBounds()
	}

	target := h.totalCount * 5 / 100

	var count uint64
	min5th, max95th := h.minBin, h.maxBin

	for bin := h.minBin; bin <= h.maxBin; bin++ {
		count += uint64(h.bins[bin])
		if count >= target {
			min5th = bin
			break
		}
	}

	count = 0
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += uint64(h.bins[bin])
		if count >= target {
			max95th = bin
			break
		}
	}

	if max95th-min5th < 6 {
		center := (max95th + min5th) / 2
		min5th = center - 3
		max95th = center + 3
	}

	margin := float64(max95th-min5th) / 10
	return EVMBounds{
		Min: float64(min5th) - margin,
		Max: float64(max95th) + margin,
	}
}

// ColorMapper maps EVM values in dB onto a pre-computed color ramp.
// Lower (better) EVM maps to the cold end of the ramp.
type ColorMapper struct {
	colorMap    []color.Color
	themeName   ColorTheme
	size        int
	boundsMin   float64
	boundsRange float64
}

// NewColorMapper creates a mapper for the given theme and bounds with
// the default ramp size
func NewColorMapper(theme ColorTheme, bounds EVMBounds) *ColorMapper {
	cm := &ColorMapper{
		colorMap:  make([]color.Color, defaultColorMapSize),
		themeName: theme,
		size:      defaultColorMapSize,
	}

	themeFn := getColorTheme(theme)
	for i := 0; i < cm.size; i++ {
		cm.colorMap[i] = themeFn(float64(i) / float64(cm.size-1))
	}

	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds rescales the mapper onto new bounds without rebuilding
// the ramp
func (cm *ColorMapper) UpdateBounds(bounds EVMBounds) {
	cm.boundsMin = bounds.Min
	cm.boundsRange = bounds.Max - bounds.Min
}

// GetColor returns the ramp color for an EVM value, clamped to the
// bounds
func (cm *ColorMapper) GetColor(evm float64) color.Color {
	index := int((evm - cm.boundsMin) / cm.boundsRange * float64(cm.size-1))

	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= cm.size {
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

// ThemeName returns the mapper's color theme
func (cm *ColorMapper) ThemeName() ColorTheme {
	return cm.themeName
}

// getColorTheme returns a function mapping a normalized value [0,1]
// onto a color. 0 is the best (lowest) EVM of the scale.
func getColorTheme(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case ClassicTheme:
		return func(v float64) color.Color {
			return colorful.Hsv(240-(v*240), 0.9+(v*0.1), math.Pow(v, 0.7)*0.8+0.2)
		}

	case GrayscaleTheme:
		return func(v float64) color.Color {
			g := uint8(math.Pow(v, 0.7) * 255)
			return color.RGBA{R: g, G: g, B: g, A: 255}
		}

	default: // ThermalTheme
		return func(v float64) color.Color {
			switch {
			case v < 0.33:
				return color.RGBA{R: uint8(v * 3 * 255), A: 255}
			case v < 0.66:
				return color.RGBA{R: 255, G: uint8((v - 0.33) * 3 * 255), A: 255}
			default:
				return color.RGBA{R: 255, G: 255, B: uint8((v - 0.66) * 3 * 255), A: 255}
			}
		}
	}
}
