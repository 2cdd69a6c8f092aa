//go:build mupdf

package main

import (
	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/raster"
)

func init() {
	renderers["mupdf"] = func(observability.Logger) raster.Renderer { return raster.NewMuPDF() }
}
