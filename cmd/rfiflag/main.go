// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// rfiflag detects radio-frequency interference in visibility archives and
// writes per-baseline flag masks next to each input.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"

	"github.com/skysift/rfi/detect"
	"github.com/skysift/rfi/encoding/flagfile"
	"github.com/skysift/rfi/encoding/visfile"
	"github.com/skysift/rfi/pipeline"
)

// Exit codes.
const (
	exitOK           = 0
	exitCommandLine  = 10
	exitStrategyErr  = 20
	exitRunException = 30
)

type options struct {
	workers      int
	verbose      bool
	strategyPath string
	readMode     visfile.ReadMode
	skipFlagged  bool
	readUVW      bool
	column       string
	bands        string
	fields       string
	combineSPWs  bool
	bandpassPath string
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] set.rfivis [set2.rfivis ...]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	fs.PrintDefaults()
}

func parseIntSet(s string) (map[int]bool, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, nil
}

// consoleProgress reports scheduler progress on the log.
type consoleProgress struct {
	verbose bool
}

func (p *consoleProgress) OnStartTask(description string) {
	log.Printf("rfiflag: %s", description)
}

func (p *consoleProgress) OnProgress(done, total int) {
	if p.verbose {
		log.Printf("rfiflag: %d/%d baselines", done, total)
	}
}

func (p *consoleProgress) OnFinish() {}

func (p *consoleProgress) OnException(err error) {
	log.Error.Printf("rfiflag: %v", err)
}

func main() {
	os.Exit(run())
}

func run() int {
	shutdown := grail.Init()
	defer shutdown()

	var opts options
	var direct, indirect, memory, auto bool
	fs := flag.NewFlagSet("rfiflag", flag.ContinueOnError)
	fs.Usage = func() { usage(fs) }
	fs.IntVar(&opts.workers, "j", 0, "Worker thread count; 0 = one per logical CPU (runtime.NumCPU), not per physical core")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose progress logging")
	fs.StringVar(&opts.strategyPath, "strategy", "", "Custom strategy file instead of the default strategy")
	fs.BoolVar(&direct, "direct-read", false, "Read visibilities directly")
	fs.BoolVar(&indirect, "indirect-read", false, "Read via a reordered temporary")
	fs.BoolVar(&memory, "memory-read", false, "Read the whole set into memory")
	fs.BoolVar(&auto, "auto-read-mode", false, "Let the reader pick a mode (default)")
	fs.BoolVar(&opts.skipFlagged, "skip-flagged", false, "Skip sets that already have a flag archive")
	fs.BoolVar(&opts.readUVW, "uvw", false, "Request UVW coordinates in the metadata")
	fs.StringVar(&opts.column, "column", "", "Name of the data column to read")
	fs.StringVar(&opts.bands, "bands", "", "Comma-separated band indices to process")
	fs.StringVar(&opts.fields, "fields", "", "Comma-separated field indices to process")
	fs.BoolVar(&opts.combineSPWs, "combine-spws", false, "Treat spectral windows as one combined band")
	fs.StringVar(&opts.bandpassPath, "bandpass", "", "Bandpass correction file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitCommandLine
	}
	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "rfiflag: no input sets given\n")
		usage(fs)
		return exitCommandLine
	}
	nModes := 0
	for _, b := range []bool{direct, indirect, memory, auto} {
		if b {
			nModes++
		}
	}
	if nModes > 1 {
		fmt.Fprintf(os.Stderr, "rfiflag: at most one read mode may be given\n")
		return exitCommandLine
	}
	switch {
	case direct:
		opts.readMode = visfile.DirectReadMode
	case indirect:
		opts.readMode = visfile.IndirectReadMode
	case memory:
		opts.readMode = visfile.MemoryReadMode
	default:
		opts.readMode = visfile.AutoReadMode
	}

	bands, err := parseIntSet(opts.bands)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rfiflag: bad -bands: %v\n", err)
		return exitCommandLine
	}
	fields, err := parseIntSet(opts.fields)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rfiflag: bad -fields: %v\n", err)
		return exitCommandLine
	}

	strategy := detect.DefaultStrategy()
	if opts.strategyPath != "" {
		strategy, err = detect.LoadStrategy(opts.strategyPath)
		if err != nil {
			log.Error.Printf("rfiflag: %v", err)
			return exitStrategyErr
		}
	}
	selection, err := pipeline.ParseBaselineSelection(strategy.Baselines)
	if err != nil {
		log.Error.Printf("rfiflag: %v", err)
		return exitStrategyErr
	}

	var bandpass *detect.Bandpass
	if opts.bandpassPath != "" {
		bandpass, err = detect.LoadBandpass(opts.bandpassPath)
		if err != nil {
			log.Error.Printf("rfiflag: %v", err)
			return exitRunException
		}
	}

	filter := pipeline.Filter{
		Selection: selection,
		Bands:     bands,
		Fields:    fields,
	}

	for _, path := range paths {
		if code := flagOneSet(path, opts, strategy, bandpass, filter); code != exitOK {
			return code
		}
	}
	return exitOK
}

func flagOneSet(path string, opts options, strategy detect.Strategy, bandpass *detect.Bandpass, filter pipeline.Filter) int {
	outPath := path + ".rfiflags"
	if opts.skipFlagged {
		if _, err := os.Stat(outPath); err == nil {
			log.Printf("rfiflag: %s already flagged, skipping", path)
			return exitOK
		}
	}

	set, err := visfile.Open(path, visfile.Opts{
		ReadMode:    opts.readMode,
		ReadUVW:     opts.readUVW,
		DataColumn:  opts.column,
		CombineSPWs: opts.combineSPWs,
	})
	if err != nil {
		log.Error.Printf("rfiflag: %s: %v", path, err)
		return exitRunException
	}

	out, err := os.Create(outPath)
	if err != nil {
		log.Error.Printf("rfiflag: %v", err)
		return exitRunException
	}
	archive := flagfile.NewWriter(out)
	writer := flagfile.NewTaskWriter(archive, func(index pipeline.Index) (flagfile.BaselineID, error) {
		a1, a2, band, seq := set.Identity(index)
		return flagfile.BaselineID{Antenna1: a1, Antenna2: a2, Band: band, Sequence: seq}, nil
	})

	scheduler := pipeline.NewScheduler(set, writer, filter, pipeline.Opts{
		Workers:  opts.workers,
		Strategy: strategy,
		Bandpass: bandpass,
		Progress: &consoleProgress{verbose: opts.verbose},
	})
	runErr := scheduler.Run()

	if err := archive.Finish(); err != nil && runErr == nil {
		runErr = err
	}
	if err := out.Close(); err != nil && runErr == nil {
		runErr = err
	}
	// Committed flag writes are preserved even on failure.
	if runErr != nil {
		log.Error.Printf("rfiflag: %s: %v", path, runErr)
		return exitRunException
	}
	log.Printf("rfiflag: %s -> %s", path, outPath)
	return exitOK
}
