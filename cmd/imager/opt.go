package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/imager"
	"github.com/wippyai/imager/async"
	"github.com/wippyai/imager/opt"
)

var (
	optInputs []string
	optOutput string
	optSize   string
	optFormat string
	optSingle bool
)

var optCmd = &cobra.Command{
	Use:   "opt",
	Short: "Optimize images and write them as JPEG",
	Long: `Optimize every file matched by --input into the --output directory.
Each output is named after its input with the format's extension.

With --single, --output is a file path and exactly one input is allowed.`,
	Example: `  imager opt -i 'assets/test/*.jpeg' -o assets/output/test --size 900x900
  imager opt -i photo.png -o photo.jpeg --single`,
	Args: cobra.NoArgs,
	RunE: runOpt,
}

func init() {
	optCmd.Flags().StringArrayVarP(&optInputs, "input", "i", nil, "input files, glob patterns allowed (repeatable)")
	optCmd.Flags().StringVarP(&optOutput, "output", "o", "", "output directory, or output file with --single")
	optCmd.Flags().StringVarP(&optSize, "size", "s", imager.Full, `target box WIDTHxHEIGHT, or "full"`)
	optCmd.Flags().StringVarP(&optFormat, "format", "f", string(imager.JPEG), "output format")
	optCmd.Flags().BoolVar(&optSingle, "single", false, "treat --output as a file path")
	_ = optCmd.MarkFlagRequired("input")
	_ = optCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(optCmd)
}

// job is one input file and the path its result is written to.
type job struct {
	src string
	dst string
}

// expandInputs resolves glob patterns into a sorted, de-duplicated file list.
// A pattern without glob syntax names a file directly.
func expandInputs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", p, err)
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err != nil || info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files match %s", strings.Join(patterns, ", "))
	}
	sort.Strings(files)
	return files, nil
}

// outputPath maps src into dir, replacing its extension with the format's.
func outputPath(dir, src string, format opt.Format) string {
	name := filepath.Base(src)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(dir, name+"."+string(format))
}

// planJobs pairs every input with its output path.
func planJobs(inputs []string, output string, format opt.Format, single bool) ([]job, error) {
	if single {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("--single takes one input, got %d", len(inputs))
		}
		return []job{{src: inputs[0], dst: output}}, nil
	}

	jobs := make([]job, 0, len(inputs))
	claimed := make(map[string]string, len(inputs))
	for _, src := range inputs {
		dst := outputPath(output, src, format)
		if prev, ok := claimed[dst]; ok {
			return nil, fmt.Errorf("%s and %s both map to %s", prev, src, dst)
		}
		claimed[dst] = src
		jobs = append(jobs, job{src: src, dst: dst})
	}
	return jobs, nil
}

func runOpt(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	inputs, err := expandInputs(optInputs)
	if err != nil {
		return err
	}
	format := opt.ParseFormat(optFormat)
	jobs, err := planJobs(inputs, optOutput, format, optSingle)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := os.MkdirAll(filepath.Dir(j.dst), 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	img, log, err := open()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer func() { _ = img.Close(ctx) }()

	type outcome struct {
		job
		err error
	}

	// every file is dispatched at once; the client bounds engine calls
	start := time.Now()
	options := imager.Options{Size: optSize, Format: format}
	results := make(chan outcome, len(jobs))
	for _, j := range jobs {
		f := img.Optimize(ctx, j.src, j.dst, options)
		go func(j job, f *async.Future[struct{}]) {
			_, err := f.Await(ctx)
			results <- outcome{job: j, err: err}
		}(j, f)
	}

	bar := newProgressReporter(os.Stderr, len(jobs))
	var errs []error
	for range jobs {
		r := <-results
		if r.err != nil {
			log.Error("optimize failed", zap.String("src", r.src), zap.Error(r.err))
			errs = append(errs, fmt.Errorf("%s: %w", r.src, r.err))
		} else {
			log.Debug("optimized", zap.String("src", r.src), zap.String("dst", r.dst))
		}
		bar.step(r.src, r.dst, r.err)
	}
	bar.finish()

	log.Info("optimize finished",
		zap.Int("files", len(jobs)),
		zap.Int("failed", len(errs)),
		zap.String("size", optSize),
		zap.Duration("elapsed", time.Since(start)))

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d files failed: %w", len(errs), len(jobs), stderrors.Join(errs...))
	}
	return nil
}

// progressReporter draws a bar on a terminal and one line per file otherwise.
type progressReporter struct {
	out   io.Writer
	bar   progress.Model
	tty   bool
	total int
	done  int
}

func newProgressReporter(out *os.File, total int) *progressReporter {
	return &progressReporter{
		out:   out,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		tty:   term.IsTerminal(int(out.Fd())),
		total: total,
	}
}

func (p *progressReporter) step(src, dst string, err error) {
	p.done++
	if !p.tty {
		if err != nil {
			fmt.Fprintf(p.out, "[%d/%d] %s: %v\n", p.done, p.total, src, err)
		} else {
			fmt.Fprintf(p.out, "[%d/%d] %s -> %s\n", p.done, p.total, src, dst)
		}
		return
	}
	fmt.Fprintf(p.out, "\r%s %d/%d", p.bar.ViewAs(float64(p.done)/float64(p.total)), p.done, p.total)
}

func (p *progressReporter) finish() {
	if p.tty {
		fmt.Fprintln(p.out)
	}
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
