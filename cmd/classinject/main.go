package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/classinject"
	"github.com/wippyai/classinject/classfile"
	"github.com/wippyai/classinject/config"
	"github.com/wippyai/classinject/dispatch"
	"github.com/wippyai/classinject/inject"
)

// langFlag collects -lang name=dir,dir values.
type langFlag map[string][]string

func (f langFlag) String() string {
	var parts []string
	for name, dirs := range f {
		parts = append(parts, name+"="+strings.Join(dirs, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func (f langFlag) Set(v string) error {
	name, dirs, ok := strings.Cut(v, "=")
	if !ok || name == "" || dirs == "" {
		return fmt.Errorf("want name=dir[,dir...], got %q", v)
	}
	f[name] = append(f[name], strings.Split(dirs, ",")...)
	return nil
}

func main() {
	langs := langFlag{}
	var (
		configPath  = flag.String("config", "", "Run file (.toml, .yaml or .yml)")
		staging     = flag.String("staging", "", "Write output under this directory instead of in place")
		workers     = flag.Int("workers", 0, "Parallel units (default GOMAXPROCS)")
		disable     = flag.Bool("disable", false, "Pass every unit through untouched")
		watch       = flag.Bool("watch", false, "Keep running and re-inject classes as they change")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Debug logging")
		method      = flag.String("method", "", "Method signature for a command-line policy, e.g. run()V")
		class       = flag.String("class", "", "Restrict the command-line policy to one class")
		point       = flag.String("point", "entry", "Insertion point: entry, exit, before-call or offset")
		call        = flag.String("call", "", "Call target for before-call, owner.name(args)ret")
		offset      = flag.Int("offset", 0, "Code offset for the offset point")
		fragment    = flag.String("fragment", "", "File holding the fragment for the command-line policy")
	)
	flag.Var(langs, "lang", "Language class directories, name=dir[,dir...] (repeatable)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: classinject [flags] <build-root>...")
		fmt.Fprintln(os.Stderr, "       classinject -config run.toml")
		fmt.Fprintln(os.Stderr, "       classinject -method 'run()V' -point exit -fragment trace.jasm build/classes")
		flag.PrintDefaults()
	}
	flag.Parse()

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	classfile.SetLogger(log.Named("classfile"))
	inject.SetLogger(log.Named("inject"))
	dispatch.SetLogger(log.Named("dispatch"))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Languages == nil {
		cfg.Languages = map[string][]string{}
	}
	for name, dirs := range langs {
		cfg.Languages[name] = dirs
	}
	cfg.Roots = append(cfg.Roots, flag.Args()...)
	if *staging != "" {
		cfg.Staging = *staging
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *method != "" {
		cfg.Policy = append(cfg.Policy, config.Policy{
			Name:         "command-line",
			Class:        *class,
			Method:       *method,
			Point:        *point,
			Call:         *call,
			Offset:       *offset,
			FragmentFile: *fragment,
		})
	}
	if len(cfg.Roots) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed, err := run(ctx, cfg, !*disable, *interactive, *watch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// run performs one pass and, with watch set, keeps going until ctx is done.
// failed reports whether any unit of the first pass failed.
func run(ctx context.Context, cfg *config.Config, enable, interactive, watch bool) (failed bool, err error) {
	job, err := classinject.NewJob(cfg)
	if err != nil {
		return false, err
	}
	job.Input.Enable = job.Input.Enable && enable

	tty := term.IsTerminal(int(os.Stdout.Fd()))
	var sum *dispatch.Summary
	if interactive && tty {
		sum, err = runInteractive(ctx, job.Input, job.Options)
	} else {
		sum, err = job.Run(ctx)
	}
	if sum == nil {
		return false, err
	}
	// Unit failures are in the summary; only cancellation is reported as an error.
	printSummary(os.Stdout, sum, tty)
	if errors.Is(err, context.Canceled) {
		return !sum.OK(), errors.New("interrupted")
	}
	if !watch || !job.Input.Enable {
		return !sum.OK(), nil
	}

	fmt.Println("watching for changes, interrupt to stop")
	err = job.Watch(ctx, func(s *dispatch.Summary, _ error) {
		printSummary(os.Stdout, s, tty)
	})
	return !sum.OK(), err
}
