package dispatch

import (
	"context"
	"crypto/sha256"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/classinject/classfile"
	clerrors "github.com/wippyai/classinject/errors"
	"github.com/wippyai/classinject/inject"
)

// Input is the set of units one run processes, keyed by language name.
// A disabled input passes every unit through untouched.
type Input struct {
	Units  map[string][]string
	Enable bool
}

// Len returns the number of units.
func (in Input) Len() int {
	n := 0
	for _, files := range in.Units {
		n += len(files)
	}
	return n
}

// Options configures a run.
type Options struct {
	// OnUnit is called from worker goroutines as each unit finishes.
	OnUnit   func(UnitReport)
	Staging  string
	Policies []inject.Policy
	// Workers bounds parallelism; zero means GOMAXPROCS.
	Workers     int
	UnitTimeout time.Duration
	// Debounce is how long Watch waits for a file to settle.
	Debounce time.Duration
}

func (o *Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

type unit struct {
	err      error
	result   *inject.Result
	log      *zap.Logger
	language string
	path     string
	dest     string
	digest   [sha256.Size]byte
	state    State
	reached  State
}

func (u *unit) advance(s State) {
	u.state = s
	u.reached = s
	u.log.Debug("unit advanced", zap.Stringer("state", s))
}

func (u *unit) fail(err error) {
	u.err = err
	u.state = StateFailed
	u.log.Warn("unit failed", zap.Stringer("reached", u.reached), zap.Error(err))
}

func (u *unit) report() UnitReport {
	return UnitReport{
		Err:      u.err,
		Result:   u.result,
		Language: u.language,
		Path:     u.path,
		State:    u.state,
		Reached:  u.reached,
		Dest:     u.dest,
		Digest:   u.digest,
	}
}

// Run processes every unit of in. Units are independent: a failing unit is
// recorded in the summary and the rest carry on. Cancellation is observed
// between units; a unit that has started is always finished.
//
// The returned error is a *multierror.Error holding every Failure, plus the
// context error when the run was cancelled, or nil.
func Run(ctx context.Context, in Input, opts Options) (*Summary, error) {
	sum := newSummary()
	log := Logger().With(zap.Stringer("run_id", sum.RunID))
	if !in.Enable {
		log.Info("injection disabled, units passed through", zap.Int("units", in.Len()))
		return sum, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(opts.workers())

	for _, u := range units(in, log) {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			u.process(&opts)
			r := u.report()
			mu.Lock()
			sum.add(r)
			mu.Unlock()
			if opts.OnUnit != nil {
				opts.OnUnit(r)
			}
			return nil
		})
	}
	_ = g.Wait()
	sum.Duration = time.Since(sum.Started)

	sort.Slice(sum.Failed, func(i, j int) bool { return sum.Failed[i].Path < sum.Failed[j].Path })
	var result *multierror.Error
	for _, f := range sum.Failed {
		result = multierror.Append(result, f)
	}
	if err := ctx.Err(); err != nil {
		result = multierror.Append(result, err)
	}

	log.Info("run finished",
		zap.Int("scanned", sum.Scanned),
		zap.Int("matched", sum.Matched),
		zap.Int("rewritten", sum.Rewritten),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", len(sum.Failed)),
		zap.Duration("duration", sum.Duration))
	return sum, result.ErrorOrNil()
}

// units orders the input by language and path.
func units(in Input, log *zap.Logger) []*unit {
	langs := make([]string, 0, len(in.Units))
	for name := range in.Units {
		langs = append(langs, name)
	}
	sort.Strings(langs)

	var out []*unit
	for _, name := range langs {
		for _, path := range in.Units[name] {
			out = append(out, &unit{
				language: name,
				path:     path,
				log:      log.With(zap.String("language", name), zap.String("path", path)),
			})
		}
	}
	return out
}

func (u *unit) process(opts *Options) {
	data, err := os.ReadFile(u.path)
	if err != nil {
		u.fail(ioError(err, "read unit"))
		return
	}
	start := time.Now()

	cf, err := classfile.Parse(data)
	if err != nil {
		u.fail(err)
		return
	}
	u.advance(StateRead)

	out, res, err := inject.Transform(cf, opts.Policies...)
	u.result = res
	if err != nil {
		u.fail(err)
		return
	}
	u.advance(StatePlanned)

	encoded := data
	if res.Changed() {
		if encoded, err = out.Encode(); err != nil {
			u.fail(err)
			return
		}
		u.advance(StateRewritten)
	}

	if limit := opts.UnitTimeout; limit > 0 {
		if elapsed := time.Since(start); elapsed > limit {
			u.fail(clerrors.New(clerrors.PhaseDispatch, clerrors.KindTimeout).
				Path(u.path).
				Detail("transform took %s, limit %s", elapsed, limit).
				Build())
			return
		}
	}

	dest := u.path
	switch {
	case opts.Staging != "":
		dest = StagedPath(opts.Staging, u.language, u.path)
	case !res.Changed():
		u.advance(StateDone)
		return
	}
	if err := writeAtomic(dest, encoded); err != nil {
		u.fail(err)
		return
	}
	u.dest, u.digest = dest, sha256.Sum256(encoded)
	u.advance(StateWritten)
	u.advance(StateDone)
}
