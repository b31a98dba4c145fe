package classinject

import (
	"context"

	"github.com/wippyai/classinject/config"
	"github.com/wippyai/classinject/dispatch"
)

// Job is a run prepared from a run file: the units found under its roots
// and the options to process them with.
type Job struct {
	Input     dispatch.Input
	Languages []dispatch.Language
	Roots     []string
	Options   dispatch.Options
}

// NewJob converts cfg's policies and discovers its units.
func NewJob(cfg *config.Config) (*Job, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	langs := cfg.LanguageTable()
	in, err := dispatch.Discover(cfg.Roots, langs)
	if err != nil {
		return nil, err
	}
	in.Enable = cfg.Enabled()
	return &Job{Input: in, Languages: langs, Roots: cfg.Roots, Options: opts}, nil
}

// Run processes every discovered unit once.
func (j *Job) Run(ctx context.Context) (*dispatch.Summary, error) {
	return dispatch.Run(ctx, j.Input, j.Options)
}

// Watch re-processes units under the job's roots as they change, until ctx
// is done.
func (j *Job) Watch(ctx context.Context, report func(*dispatch.Summary, error)) error {
	return dispatch.Watch(ctx, j.Roots, j.Languages, j.Options, report)
}
