// Command kytepdf compresses, annotates, signs, merges, splits and converts
// PDF files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"

	"github.com/idmcalculus/kytepdf/config"
	"github.com/idmcalculus/kytepdf/errmap"
	"github.com/idmcalculus/kytepdf/observability"
)

// errUsage marks bad command lines; the command has already printed usage.
var errUsage = errors.New("usage")

type app struct {
	cfg    *config.Config
	logger observability.Logger
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"compress":    {"rasterize and recompress to a target size", runCompress},
	"annotate":    {"draw annotations from a JSON file", runAnnotate},
	"sign":        {"place a signature image on a page", runSign},
	"merge":       {"concatenate documents", runMerge},
	"split":       {"write one document per page range", runSplit},
	"extract":     {"copy selected pages into a new document", runExtract},
	"to-images":   {"render pages to PNG or JPEG files", runToImages},
	"from-images": {"build a document from PNG or JPEG files", runFromImages},
	"info":        {"print page count and sizes", runInfo},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("kytepdf", flag.ContinueOnError)
	global.SetOutput(stderr)
	verbose := global.Bool("v", false, "Log at debug level")
	global.Usage = func() { usage(stderr) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		usage(stderr)
		return 2
	}
	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "kytepdf: unknown command %q\n", name)
		usage(stderr)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "kytepdf: %v\n", err)
		return 2
	}
	if *verbose {
		cfg.Logging.Enabled = true
		cfg.Logging.Level = "DEBUG"
	}
	a := &app{cfg: cfg, logger: cfg.Logger(stderr).With(observability.String("command", name)), stdout: stdout, stderr: stderr}

	if err := cmd.run(ctx, a, global.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		a.logger.Debug("command failed", observability.Error("error", err))
		fmt.Fprintf(stderr, "kytepdf %s: %s\n", name, errmap.Map(err, ""))
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: kytepdf [-v] <command> [flags] <args>\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-12s %s\n", n, commands[n].summary)
	}
}
