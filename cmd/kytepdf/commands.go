package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/idmcalculus/kytepdf/annotate"
	"github.com/idmcalculus/kytepdf/annotation"
	"github.com/idmcalculus/kytepdf/builder"
	"github.com/idmcalculus/kytepdf/compress"
	"github.com/idmcalculus/kytepdf/convert"
	"github.com/idmcalculus/kytepdf/humanize"
	"github.com/idmcalculus/kytepdf/observability"
	"github.com/idmcalculus/kytepdf/pages"
)

// flags returns a flag set that prints its usage line on errors.
func (a *app) flags(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kytepdf %s [flags] %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func parse(fs *flag.FlagSet, args []string, minArgs, maxArgs int) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() < minArgs || (maxArgs >= 0 && fs.NArg() > maxArgs) {
		fs.Usage()
		return errUsage
	}
	return nil
}

// readPDF loads a file, refusing anything above the configured size limit.
func (a *app) readPDF(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > a.cfg.MaxFileSize() {
		return nil, fmt.Errorf("%s is %s, above the %d MB limit", path, humanize.FormatFileSize(info.Size(), 2), a.cfg.Limits.MaxFileSizeMB)
	}
	return os.ReadFile(path)
}

func (a *app) write(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "wrote %s (%s)\n", path, humanize.FormatFileSize(int64(len(data)), 2))
	return nil
}

// outputPath is the explicit output when given, else the input name with
// suffix, next to the input.
func outputPath(fs *flag.FlagSet, in, suffix string) string {
	if fs.NArg() > 1 {
		return fs.Arg(1)
	}
	return filepath.Join(filepath.Dir(in), humanize.OutputFilename(filepath.Base(in), suffix, ""))
}

func baseName(path string) string {
	return strings.TrimSuffix(humanize.OutputFilename(filepath.Base(path), "", ""), ".pdf")
}

func runCompress(ctx context.Context, a *app, args []string) error {
	fs := a.flags("compress", "<in.pdf> [out.pdf]")
	target := fs.Float64("target", a.cfg.Compression.DefaultTargetKB, "Target size in KB")
	if err := parse(fs, args, 1, 2); err != nil {
		return err
	}
	in := fs.Arg(0)
	data, err := a.readPDF(in)
	if err != nil {
		return err
	}
	r, err := a.renderer()
	if err != nil {
		return err
	}
	engine := compress.New(r, compress.WithLogger(a.logger))
	res, err := engine.CompressWithStats(ctx, data, *target, func(p int, status string) {
		fmt.Fprintf(a.stderr, "\r[%3d%%] %-40s", p, status)
	})
	fmt.Fprintln(a.stderr)
	if err != nil {
		return err
	}
	if err := a.write(outputPath(fs, in, "_compressed"), res.Data); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s -> %s, %d%% smaller after %d iterations\n",
		humanize.FormatFileSize(int64(res.OriginalSize), 2),
		humanize.FormatFileSize(int64(len(res.Data)), 2),
		humanize.SavingsPercent(int64(res.OriginalSize), int64(len(res.Data))),
		res.Iterations)
	if !res.WithinTarget(*target) {
		fmt.Fprintf(a.stdout, "target of %v KB not reached\n", *target)
	}
	return nil
}

func runAnnotate(ctx context.Context, a *app, args []string) error {
	fs := a.flags("annotate", "<in.pdf> [out.pdf]")
	file := fs.String("annotations", "", "JSON array of annotations")
	editor := fs.Bool("editor", false, "Coordinates are in editor pixels and need scaling to points")
	if err := parse(fs, args, 1, 2); err != nil {
		return err
	}
	if *file == "" {
		fs.Usage()
		return errUsage
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var loaded []annotation.Annotation
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return fmt.Errorf("read %s: %w", *file, err)
	}
	store := annotation.NewStore()
	for _, ann := range loaded {
		store.Add(ann)
	}

	in := fs.Arg(0)
	data, err := a.readPDF(in)
	if err != nil {
		return err
	}
	s, err := annotate.Open(ctx, data, annotate.WithLogger(a.logger))
	if err != nil {
		return err
	}
	anns := store.ListAll()
	if *editor {
		anns = annotate.ScaleAnnotations(anns, s.PageWidths())
	}
	drawn := s.Render(ctx, anns)
	out, err := s.Save(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("annotations embedded", observability.Int("drawn", drawn), observability.Int("total", len(anns)))
	return a.write(outputPath(fs, in, "_annotated"), out)
}

func runSign(ctx context.Context, a *app, args []string) error {
	fs := a.flags("sign", "<in.pdf> [out.pdf]")
	image := fs.String("image", "", "PNG or JPEG signature")
	page := fs.Int("page", 1, "One-based page number")
	x := fs.Float64("x", 0.6, "Left edge as a fraction of the page width")
	y := fs.Float64("y", 0.8, "Top edge as a fraction of the page height")
	w := fs.Float64("w", 0.25, "Width as a fraction of the page width")
	h := fs.Float64("h", 0.1, "Height as a fraction of the page height")
	if err := parse(fs, args, 1, 2); err != nil {
		return err
	}
	if *image == "" {
		fs.Usage()
		return errUsage
	}
	sig, err := os.ReadFile(*image)
	if err != nil {
		return err
	}
	in := fs.Arg(0)
	data, err := a.readPDF(in)
	if err != nil {
		return err
	}
	out, err := annotate.PlaceSignature(ctx, data, sig, *page, annotate.Placement{X: *x, Y: *y, W: *w, H: *h}, annotate.WithLogger(a.logger))
	if err != nil {
		return err
	}
	return a.write(outputPath(fs, in, "_signed"), out)
}

func runMerge(ctx context.Context, a *app, args []string) error {
	fs := a.flags("merge", "<out.pdf> <in.pdf>...")
	if err := parse(fs, args, 3, a.cfg.Limits.MaxMergeFiles+1); err != nil {
		return err
	}
	var docs [][]byte
	for _, in := range fs.Args()[1:] {
		data, err := a.readPDF(in)
		if err != nil {
			return err
		}
		docs = append(docs, data)
	}
	out, err := pages.New(pages.WithLogger(a.logger)).Merge(ctx, docs...)
	if err != nil {
		return err
	}
	return a.write(fs.Arg(0), out)
}

func runSplit(ctx context.Context, a *app, args []string) error {
	fs := a.flags("split", "<in.pdf> <outdir>")
	ranges := fs.String("ranges", "", `Page ranges separated by ";", e.g. "1-3;4,6". Default: one file per page`)
	if err := parse(fs, args, 2, 2); err != nil {
		return err
	}
	in, dir := fs.Arg(0), fs.Arg(1)
	data, err := a.readPDF(in)
	if err != nil {
		return err
	}
	ed := pages.New(pages.WithLogger(a.logger))
	var groups []string
	if *ranges != "" {
		groups = strings.Split(*ranges, ";")
	} else {
		info, err := ed.Info(ctx, data)
		if err != nil {
			return err
		}
		for _, p := range info.Pages {
			groups = append(groups, fmt.Sprint(p.Number))
		}
	}
	parts, err := ed.Split(ctx, data, groups)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, part := range parts {
		name := humanize.OutputFilename(filepath.Base(in), fmt.Sprintf("_part_%d", i+1), "")
		if err := a.write(filepath.Join(dir, name), part); err != nil {
			return err
		}
	}
	return nil
}

func runExtract(ctx context.Context, a *app, args []string) error {
	fs := a.flags("extract", "<in.pdf> [out.pdf]")
	sel := fs.String("pages", "", `Pages to keep, e.g. "1-3,5"`)
	if err := parse(fs, args, 1, 2); err != nil {
		return err
	}
	in := fs.Arg(0)
	data, err := a.readPDF(in)
	if err != nil {
		return err
	}
	ed := pages.New(pages.WithLogger(a.logger))
	info, err := ed.Info(ctx, data)
	if err != nil {
		return err
	}
	numbers := pages.ParsePageRange(*sel, len(info.Pages))
	fmt.Fprintln(a.stderr, humanize.SelectionInfo(len(numbers)))
	out, err := ed.Extract(ctx, data, numbers)
	if err != nil {
		return err
	}
	return a.write(outputPath(fs, in, "_extracted"), out)
}

func runToImages(ctx context.Context, a *app, args []string) error {
	fs := a.flags("to-images", "<in.pdf> <outdir>")
	scale := fs.Float64("scale", a.cfg.Render.Scale, "Pixels per point")
	format := fs.String("format", a.cfg.Render.ImageFormat, "png or jpeg")
	quality := fs.Float64("quality", a.cfg.Render.JPEGQuality, "JPEG quality in (0, 1]")
	sel := fs.String("pages", "", `Pages to render, e.g. "1-3,5". Default: all`)
	if err := parse(fs, args, 2, 2); err != nil {
		return err
	}
	in, dir := fs.Arg(0), fs.Arg(1)
	data, err := a.readPDF(in)
	if err != nil {
		return err
	}
	r, err := a.renderer()
	if err != nil {
		return err
	}
	opts := convert.ImageOptions{
		Scale:    *scale,
		Format:   builder.ImageFormat(strings.ToLower(*format)),
		Quality:  *quality,
		BaseName: baseName(in),
	}
	if *sel != "" {
		info, err := pages.New(pages.WithLogger(a.logger)).Info(ctx, data)
		if err != nil {
			return err
		}
		opts.Pages = pages.ParsePageRange(*sel, len(info.Pages))
		if len(opts.Pages) == 0 {
			return pages.ErrEmptySelection
		}
	}
	images, err := convert.New(r, convert.WithLogger(a.logger)).PagesToImages(ctx, data, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, img := range images {
		if err := a.write(filepath.Join(dir, img.Name), img.Data); err != nil {
			return err
		}
	}
	return nil
}

func runFromImages(ctx context.Context, a *app, args []string) error {
	fs := a.flags("from-images", "<out.pdf> <image>...")
	if err := parse(fs, args, 2, -1); err != nil {
		return err
	}
	var images [][]byte
	for _, path := range fs.Args()[1:] {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		images = append(images, data)
	}
	out, err := convert.New(nil, convert.WithLogger(a.logger)).ImagesToPDF(ctx, images)
	if err != nil {
		return err
	}
	return a.write(fs.Arg(0), out)
}

func runInfo(ctx context.Context, a *app, args []string) error {
	fs := a.flags("info", "<in.pdf>")
	validate := fs.Bool("validate", false, "Also check the file with an independent validator")
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	in := fs.Arg(0)
	data, err := a.readPDF(in)
	if err != nil {
		return err
	}
	info, err := pages.New(pages.WithLogger(a.logger)).Info(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: PDF %s, %d pages, %s\n", in, info.Version, len(info.Pages), humanize.FormatFileSize(int64(len(data)), 2))
	for _, p := range info.Pages {
		fmt.Fprintf(a.stdout, "  page %d: %g x %g pt", p.Number, p.Width, p.Height)
		if p.Rotate != 0 {
			fmt.Fprintf(a.stdout, ", rotated %d", p.Rotate)
		}
		fmt.Fprintln(a.stdout)
	}
	if *validate {
		n, err := pages.Validate(ctx, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "valid, %d pages\n", n)
	}
	return nil
}
