// Command squish compresses JPEG, PNG and PDF files.
//
// Usage:
//
//	squish [flags] <input>...
//
// Examples:
//
//	squish photo.jpg
//	squish -q 70 --max-side 1920 photo.jpg scan.png
//	squish --target 200KB report.pdf
//	squish --mode png --png-mode lossless -d out/ *.png
//	squish --stdout photo.jpg > small.jpg
package main

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shamspias/squish"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

type cliFlags struct {
	quality    int
	preset     string
	mode       string
	maxSide    int
	target     string
	bg         string
	pngMode    string
	colors     int
	dither     bool
	forceQuant bool
	keepAlpha  bool
	filter     string
	noOrient   bool
	outDir     string
	suffix     string
	toStdout   bool
	workers    int
	verbose    bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f cliFlags

	cmd := &cobra.Command{
		Use:   "squish [flags] <input>...",
		Short: "Shrink JPEG, PNG and PDF files",
		Long: `Re-encodes images and the raster images inside PDFs, optionally
searching for the highest quality that fits a target size.

Outputs are written next to each input as <name>_squished.<ext>, or into
--out-dir. The extension follows the output mode actually produced.`,
		Version:      squish.Version,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, f, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fl := cmd.Flags()
	fl.IntVarP(&f.quality, "quality", "q", 80, "maximum quality, 1-100")
	fl.StringVar(&f.preset, "preset", "balanced", "encoder effort: fast|balanced|max")
	fl.StringVarP(&f.mode, "mode", "m", "auto", "output mode: auto|jpeg|png|pdf")
	fl.IntVar(&f.maxSide, "max-side", 0, "longest side in pixels (0 = no limit)")
	fl.StringVarP(&f.target, "target", "t", "", "target size, e.g. 100KB or 2MB")
	fl.StringVar(&f.bg, "bg", "ffffff", "JPEG background for transparent pixels, hex RGB")
	fl.StringVar(&f.pngMode, "png-mode", "auto", "PNG mode: auto|lossless|manual")
	fl.IntVar(&f.colors, "colors", 256, "palette size in manual PNG mode")
	fl.BoolVar(&f.dither, "dither", false, "dither in manual PNG mode")
	fl.BoolVar(&f.forceQuant, "force-quant", false, "always quantize in manual PNG mode")
	fl.BoolVar(&f.keepAlpha, "transparent", false, "keep PNG input as PNG instead of flattening to JPEG")
	fl.StringVar(&f.filter, "filter", "lanczos", "resize filter: lanczos|catmullrom|bilinear|approxbilinear|nearest")
	fl.BoolVar(&f.noOrient, "no-orient", false, "ignore EXIF orientation")
	fl.StringVarP(&f.outDir, "out-dir", "d", "", "write outputs into this directory")
	fl.StringVar(&f.suffix, "suffix", "_squished", "suffix added to output file names")
	fl.BoolVar(&f.toStdout, "stdout", false, "write the single output to stdout")
	fl.IntVarP(&f.workers, "workers", "j", 0, "parallel files (0 = number of CPUs)")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging on stderr")

	return cmd
}

func run(cmd *cobra.Command, args []string, f cliFlags, stdout, stderr io.Writer) error {
	opts, err := buildOptions(f)
	if err != nil {
		return err
	}
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	opts.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if f.toStdout {
		if len(args) != 1 {
			return fmt.Errorf("--stdout takes exactly one input, got %d", len(args))
		}
		if out, ok := stdout.(*os.File); ok && term.IsTerminal(int(out.Fd())) {
			return fmt.Errorf("refusing to write binary output to a terminal")
		}
	}
	if f.outDir != "" {
		if err := os.MkdirAll(f.outDir, 0o755); err != nil {
			return fmt.Errorf("create %q: %w", f.outDir, err)
		}
	}

	items := make([]squish.BatchItem, len(args))
	for i, a := range args {
		items[i] = squish.BatchItem{Src: a}
	}
	results := squish.CompressBatch(cmd.Context(), items, squish.BatchOptions{
		Workers:     f.workers,
		DefaultOpts: opts,
	})

	p := message.NewPrinter(language.English)
	writeFailed := 0
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", r.Item.Src, r.Err)
			continue
		}
		if f.toStdout {
			_, err := r.Result.WriteTo(stdout)
			if err != nil && !errors.Is(err, squish.ErrNoData) {
				return fmt.Errorf("write stdout: %w", err)
			}
			p.Fprintf(stderr, "%s: %d → %d bytes (%s)\n", r.Item.Src, r.Result.OriginalSize, r.Result.CompressedSize, r.Result.Mode)
			continue
		}

		dst := outputPath(r.Item.Src, f.outDir, f.suffix, r.Result.Mode)
		if err := os.WriteFile(dst, r.Result.Data, 0o644); err != nil {
			fmt.Fprintf(stderr, "write %q: %v\n", dst, err)
			writeFailed++
			continue
		}
		note := ""
		if r.Result.KeptOriginal {
			note = ", original kept"
		}
		p.Fprintf(stdout, "%s → %s: %d → %d bytes, %.1f%% saved (%s%s)\n",
			r.Item.Src, dst, r.Result.OriginalSize, r.Result.CompressedSize,
			r.Result.SavingsPercent, r.Result.Mode, note)
	}

	sum := squish.Summarize(results)
	if len(results) > 1 && !f.toStdout {
		fmt.Fprintln(stdout, sum)
	}
	if failed := sum.Failed + writeFailed; failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, sum.Total)
	}
	return nil
}

func buildOptions(f cliFlags) (squish.Options, error) {
	opts := squish.DefaultOptions()
	if f.quality < 1 || f.quality > 100 {
		return opts, fmt.Errorf("quality %d out of range 1-100", f.quality)
	}
	opts.Quality = f.quality

	preset, err := parsePreset(f.preset)
	if err != nil {
		return opts, err
	}
	opts.Preset = preset

	if opts.Mode, err = squish.ParseOutputMode(f.mode); err != nil {
		return opts, err
	}
	if f.maxSide < 0 {
		return opts, fmt.Errorf("max-side must not be negative")
	}
	opts.MaxSide = f.maxSide

	if f.target != "" {
		n, err := parseSize(f.target)
		if err != nil {
			return opts, fmt.Errorf("invalid target %q: %w", f.target, err)
		}
		opts.TargetKB = (n + 1023) / 1024
	}

	if opts.Background, err = parseColor(f.bg); err != nil {
		return opts, err
	}
	opts.PNGMode = squish.ParsePNGMode(f.pngMode)
	opts.PNGMaxColors = f.colors
	opts.PNGDither = f.dither
	opts.PNGForceQuant = f.forceQuant
	opts.BackgroundTransparent = f.keepAlpha
	if opts.Filter, err = squish.ParseResizeFilter(f.filter); err != nil {
		return opts, err
	}
	opts.AutoOrient = !f.noOrient
	return opts, nil
}

func parsePreset(s string) (squish.Preset, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast", "0":
		return squish.PresetFast, nil
	case "balanced", "1", "":
		return squish.PresetBalanced, nil
	case "max", "maximum", "2":
		return squish.PresetMax, nil
	default:
		return squish.PresetBalanced, fmt.Errorf("unknown preset %q", s)
	}
}

// parseSize reads "100KB", "2MB", "1.5mb" or a plain byte count.
func parseSize(s string) (int, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return int(n * multiplier), nil
}

// parseColor reads "fff", "ffffff" or "#ffffff".
func parseColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// outputPath places the output next to src, or in dir, with the
// extension of the mode actually produced.
func outputPath(src, dir, suffix string, mode squish.OutputMode) string {
	base := filepath.Base(src)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + suffix + squish.OutputExt(mode)
	if dir == "" {
		dir = filepath.Dir(src)
	}
	return filepath.Join(dir, name)
}
