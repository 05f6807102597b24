package layout

// This file keeps the unit conversions used at the canvas boundary.
// Layout math runs in base pixels; the drawing backend takes font sizes
// in pt, and print profiles speak dpi.

// Conversion constants between pt, mm and inches.
const (
	PtToMm  = 0.352777
	MmToPt  = 1.0 / PtToMm
	MmPerIn = 25.4
)

// BaseDPI is the pixel density the base canvas is authored at. One base
// pixel equals one point, so "web" exports are a straight 1x copy.
const BaseDPI = 72.0

// PxToPt converts a base-pixel length into points (1pt = 1/72in).
func PxToPt(px float64) float64 { return px * 72.0 / BaseDPI }

// ScaleForDPI derives the scale multiplier needed to reach the target dpi
// from the base canvas density: 144dpi doubles, 300dpi gives ~4.17.
func ScaleForDPI(dpi float64) float64 {
	if dpi <= 0 {
		return 1
	}
	return dpi / BaseDPI
}
