package coords

// EditorTargetWidth is the width, in CSS pixels, that editor pages are laid
// out at. Annotation pixel positions are relative to a page rendered at
// this width.
const EditorTargetWidth = 800

// BaselineFactor shifts a top anchored text position down to the baseline.
// It approximates the ascent of the standard fonts and is not exact for
// any particular font.
const BaselineFactor = 0.8

// DomToPdfPoint converts a top-left origin pixel position, rendered at
// scale, into bottom-left origin PDF points. No clamping is applied.
func DomToPdfPoint(domX, domY, pageHeight, scale float64) Point {
	return Point{X: domX / scale, Y: pageHeight - domY/scale}
}

// PdfToDomPoint is the inverse of DomToPdfPoint.
func PdfToDomPoint(x, y, pageHeight, scale float64) Point {
	return Point{X: x * scale, Y: (pageHeight - y) * scale}
}

// AdjustYForTextBaseline moves y from the visual top of a line of text to
// where the baseline should be drawn.
func AdjustYForTextBaseline(pdfY, fontSize float64) float64 {
	return pdfY - fontSize*BaselineFactor
}

// ViewportScale returns the ratio between a page width in points and the
// width it is displayed at. A non-positive pageWidth yields 1.
func ViewportScale(pageWidth, targetWidth float64) float64 {
	if pageWidth <= 0 {
		return 1
	}
	return targetWidth / pageWidth
}
