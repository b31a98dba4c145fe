package inject

import (
	"strconv"
	"strings"

	"github.com/wippyai/classinject/classfile"
	clerrors "github.com/wippyai/classinject/errors"
	"github.com/wippyai/classinject/inject/internal/rewrite"
)

// Point is where a fragment is inserted in a matched method.
type Point = rewrite.Point

// Insertion points.
const (
	PointEntry      = rewrite.PointEntry
	PointExit       = rewrite.PointExit
	PointBeforeCall = rewrite.PointBeforeCall
	PointOffset     = rewrite.PointOffset
)

// ParsePoint converts a point name as written in run files.
func ParsePoint(s string) (Point, error) {
	switch p := Point(strings.ToLower(strings.TrimSpace(s))); p {
	case PointEntry, PointExit, PointBeforeCall, PointOffset:
		return p, nil
	case "method-entry":
		return PointEntry, nil
	case "method-exit":
		return PointExit, nil
	}
	return "", clerrors.InvalidInput(clerrors.PhasePlan, "unknown insertion point "+strconv.Quote(s))
}

// Policy selects methods and says what to insert where.
//
// Matching is exact: Method is compared with the method's name immediately
// followed by its descriptor, and Class, when set, with the class's internal
// name. Call is compared with the resolved invoke target rendered as
// owner.name(args)ret.
type Policy struct {
	Fragment *Fragment
	Name     string // label used in logs and reports
	Class    string
	Method   string // e.g. "run()V"
	Point    Point
	Call     string // before-call target, e.g. "java/io/File.delete()Z"
	Offset   int    // code offset for PointOffset
}

// Validate checks that the policy is complete and well-formed.
func (p *Policy) Validate() error {
	fail := func(format string, args ...any) error {
		return clerrors.New(clerrors.PhasePlan, clerrors.KindInvalidInput).
			Path("policy", p.label()).Detail(format, args...).Build()
	}
	if _, _, ok := splitSignature(p.Method); !ok {
		return fail("method %q is not name(args)ret", p.Method)
	}
	if p.Fragment == nil {
		return fail("no fragment")
	}
	switch p.Point {
	case PointEntry, PointExit:
	case PointBeforeCall:
		if err := checkCallTarget(p.Call); err != nil {
			return fail("call target: %v", err)
		}
	case PointOffset:
		if p.Offset < 0 || p.Offset > classfile.MaxCodeLength {
			return fail("offset %d out of range", p.Offset)
		}
	default:
		return fail("unknown insertion point %q", p.Point)
	}
	return nil
}

func (p *Policy) label() string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.Point) + " " + p.Method
}

// splitSignature splits "name(args)ret" into name and descriptor.
func splitSignature(sig string) (name, desc string, ok bool) {
	paren := strings.IndexByte(sig, '(')
	if paren <= 0 {
		return "", "", false
	}
	name, desc = sig[:paren], sig[paren:]
	if _, _, err := classfile.ParseMethodDescriptor(desc); err != nil {
		return "", "", false
	}
	return name, desc, true
}
