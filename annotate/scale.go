package annotate

import (
	"github.com/idmcalculus/kytepdf/annotation"
	"github.com/idmcalculus/kytepdf/coords"
)

// ScaleAnnotation converts an annotation placed on a page displayed at
// scale (display pixels per point) into PDF points. The font size is
// always set on the result, defaulting to DefaultFontSize before scaling.
func ScaleAnnotation(a annotation.Annotation, scale float64) annotation.Annotation {
	if scale <= 0 {
		scale = 1
	}
	out := a.Clone()
	out.X = a.X / scale
	out.Y = a.Y / scale
	if a.Width != nil && *a.Width != 0 {
		out.Width = annotation.Float(*a.Width / scale)
	}
	if a.Height != nil && *a.Height != 0 {
		out.Height = annotation.Float(*a.Height / scale)
	}
	st := annotation.Style{}
	if out.Style != nil {
		st = *out.Style
	}
	st.FontSize = annotation.Float(orDefault(st.FontSize, DefaultFontSize) / scale)
	out.Style = &st
	return out
}

// ScaleAnnotations converts editor pixel annotations to points, once per
// save. Each page's scale is EditorTargetWidth over its width in points;
// annotations on unknown pages keep scale 1 and are skipped when drawn.
func ScaleAnnotations(anns []annotation.Annotation, pageWidths []float64) []annotation.Annotation {
	out := make([]annotation.Annotation, len(anns))
	for i, a := range anns {
		scale := 1.0
		if a.PageIndex >= 0 && a.PageIndex < len(pageWidths) {
			scale = coords.ViewportScale(pageWidths[a.PageIndex], coords.EditorTargetWidth)
		}
		out[i] = ScaleAnnotation(a, scale)
	}
	return out
}
