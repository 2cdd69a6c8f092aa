package annotate

import (
	"context"
	"errors"

	"github.com/idmcalculus/kytepdf/annotation"
	"github.com/idmcalculus/kytepdf/observability"
)

func errField(err error) observability.Field { return observability.Error("error", err) }

// Embed draws anns, given in PDF points, onto the pages of data and
// returns the new document. Annotations that cannot be drawn are logged
// and left out; only an unreadable or unwritable document is an error.
// anns is read, never modified or retained.
func Embed(ctx context.Context, data []byte, anns []annotation.Annotation, opts ...Option) ([]byte, error) {
	o := newOptions(opts)
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanEmbed)
	defer span.Finish()
	span.SetTag("annotations", len(anns))

	s, err := Open(ctx, data, opts...)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	drawn := s.Render(ctx, anns)
	span.SetTag("drawn", drawn)

	out, err := s.Save(ctx)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return out, nil
}

// Render draws each annotation with the tool registered for its type and
// reports how many were drawn.
func (s *Session) Render(ctx context.Context, anns []annotation.Annotation) int {
	drawn := 0
	for _, a := range anns {
		if ctx.Err() != nil {
			break
		}
		log := s.logger.With(observability.String("annotation", a.ID), observability.String("type", string(a.Type)))
		page, ok := s.Page(a.PageIndex)
		if !ok {
			log.Debug("annotation skipped: page out of range",
				observability.Int("page_index", a.PageIndex),
				observability.Int("pages", s.PageCount()))
			continue
		}
		tool, ok := s.opts.tools.Lookup(a.Type)
		if !ok {
			log.Debug("annotation skipped: no tool for type")
			continue
		}
		if err := tool.RenderAnnotation(s, page, a); err != nil {
			if errors.Is(err, ErrSkip) {
				log.Debug("annotation skipped", errField(err))
			} else {
				log.Warn("annotation could not be drawn", errField(err))
			}
			continue
		}
		drawn++
	}
	return drawn
}
