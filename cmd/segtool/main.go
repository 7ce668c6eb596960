// Command segtool inspects and maintains segment tree files.
//
//	segtool [flags] inspect <file>
//	segtool [flags] check <file>
//	segtool [flags] dump <file> [id]
//	segtool [flags] compact <file> [out]
//	segtool [flags] split <file> [out]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/segtree"
	"github.com/hupe1980/segtree/metrics"
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("segtool", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "Path to YAML config file")
	blockSize := flags.Int("block-size", segtree.DefaultBlockSize, "Block size for new files")
	compression := flags.String("compression", "zstd", "Block codec for new files (none, lz4, zstd, snappy)")
	loadMode := flags.String("load-mode", "clean", "Load mode (lazy, clean)")
	logLevel := flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	showMetrics := flags.Bool("metrics", false, "Print collected metrics after the command")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: segtool [flags] <inspect|check|dump|compact|split> <file> [arg]")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "segtool:", err)
		return 1
	}
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "block-size":
			cfg.BlockSize = *blockSize
		case "compression":
			cfg.Compression = *compression
		case "load-mode":
			cfg.LoadMode = *loadMode
		case "log-level":
			cfg.LogLevel = *logLevel
		case "metrics":
			cfg.Metrics = *showMetrics
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "segtool:", err)
		return 1
	}

	reg := prometheus.NewRegistry()
	opts, err := cfg.Options(stderr, metrics.NewPrometheusCollector(reg))
	if err != nil {
		fmt.Fprintln(stderr, "segtool:", err)
		return 1
	}
	mode, _ := cfg.loadMode()
	tool := &tool{out: stdout, opts: opts, mode: mode}

	rest := flags.Args()
	if len(rest) < 2 {
		flags.Usage()
		return 2
	}
	cmd, path, extra := rest[0], rest[1], rest[2:]

	switch cmd {
	case "inspect":
		err = tool.inspect(path)
	case "check":
		err = tool.check(path)
	case "dump":
		err = tool.dump(path, extra)
	case "compact":
		err = tool.compact(path, extra)
	case "split":
		err = tool.split(path, extra)
	default:
		err = fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if cfg.Metrics {
		if merr := printMetrics(stderr, reg); merr != nil && err == nil {
			err = merr
		}
	}
	if err != nil {
		fmt.Fprintln(stderr, "segtool:", err)
		if errors.Is(err, errUsage) {
			flags.Usage()
			return 2
		}
		return 1
	}
	return 0
}

// printMetrics writes every non-zero sample gathered from reg.
func printMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				v = float64(m.GetHistogram().GetSampleCount())
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			}
			if v == 0 {
				continue
			}
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf("{%s=%q}", lp.GetName(), lp.GetValue())
			}
			fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), labels, v)
		}
	}
	return nil
}
