package inject

import (
	"go.uber.org/zap"

	"github.com/wippyai/classinject/classfile"
	"github.com/wippyai/classinject/inject/internal/rewrite"
)

// Result summarizes what a transform did to one class.
type Result struct {
	Class    string
	Matched  int // methods matched by at least one policy
	Inserted int // fragments spliced in
	Skipped  int // sites left alone because the fragment was already there
}

// Changed reports whether the class was rewritten.
func (r *Result) Changed() bool { return r.Inserted > 0 }

func newResult(p *Plan) *Result {
	return &Result{Class: p.Class, Matched: p.Matched, Inserted: len(p.Insertions), Skipped: p.Skipped}
}

// Transform applies policies to a copy of cf and returns the copy. cf itself
// is never modified.
func Transform(cf *classfile.ClassFile, policies ...Policy) (*classfile.ClassFile, *Result, error) {
	out := cf.Clone()
	plan, err := NewPlan(out, policies...)
	if err != nil {
		return nil, nil, err
	}
	res := newResult(plan)
	if plan.Empty() {
		// Planning may have interned constants for sites it then skipped.
		return cf.Clone(), res, nil
	}
	if err := rewrite.Apply(out, plan.Insertions); err != nil {
		return nil, res, err
	}
	Logger().Debug("class transformed",
		zap.String("class", res.Class),
		zap.Int("matched", res.Matched),
		zap.Int("inserted", res.Inserted),
		zap.Int("skipped", res.Skipped))
	return out, res, nil
}

// TransformBytes parses data, applies policies and encodes the result. When
// nothing is inserted the input slice is returned as is.
func TransformBytes(data []byte, policies ...Policy) ([]byte, *Result, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	plan, err := NewPlan(cf, policies...)
	if err != nil {
		return nil, nil, err
	}
	res := newResult(plan)
	if plan.Empty() {
		return data, res, nil
	}
	if err := rewrite.Apply(cf, plan.Insertions); err != nil {
		return nil, res, err
	}
	out, err := cf.Encode()
	if err != nil {
		return nil, res, err
	}
	Logger().Debug("class transformed",
		zap.String("class", res.Class),
		zap.Int("inserted", res.Inserted),
		zap.Int("bytes_in", len(data)),
		zap.Int("bytes_out", len(out)))
	return out, res, nil
}
