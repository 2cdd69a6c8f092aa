package main

import (
	"fmt"

	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/raster"
)

// renderers maps config backend names to constructors. Builds with the
// mupdf tag add "mupdf".
var renderers = map[string]func(observability.Logger) raster.Renderer{
	"native": func(l observability.Logger) raster.Renderer { return raster.New(raster.WithLogger(l)) },
}

func (a *app) renderer() (raster.Renderer, error) {
	newRenderer, ok := renderers[a.cfg.Render.Backend]
	if !ok {
		return nil, fmt.Errorf("render backend %q is not built in", a.cfg.Render.Backend)
	}
	return newRenderer(a.logger), nil
}
