package rewrite

import (
	"go.uber.org/zap"

	"github.com/wippyai/classinject/classfile"
	clerrors "github.com/wippyai/classinject/errors"
)

// Point is where a fragment is spliced relative to the code it instruments.
type Point string

const (
	PointEntry      Point = "entry"       // before the first instruction
	PointExit       Point = "exit"        // before every *return
	PointBeforeCall Point = "before-call" // before every matching invoke*
	PointOffset     Point = "offset"      // before the instruction at an explicit offset
)

// Insertion is one fragment spliced into one method at one code offset.
// Offset addresses the method's code as it was before any insertion of the
// same Apply call.
type Insertion struct {
	Method     string // name+descriptor, e.g. "run()V"
	Kind       Point
	Fragment   []classfile.Instruction
	Offset     int
	StackDelta int // peak operand stack depth the fragment adds
	MaxLocal   int // one past the highest local slot the fragment touches
}

// Apply splices every insertion into cf in place. Insertions are grouped by
// method; within one offset they are emitted in the order given, with entry
// fragments ahead of all others. Apply either rewrites every affected method
// or returns an error with cf unchanged.
func Apply(cf *classfile.ClassFile, insertions []Insertion) error {
	if len(insertions) == 0 {
		return nil
	}
	className, err := cf.Name()
	if err != nil {
		return clerrors.Wrap(clerrors.PhaseRewrite, clerrors.KindMalformedUnit, err, "this_class")
	}

	var order []string
	byMethod := make(map[string][]Insertion)
	for _, ins := range insertions {
		if _, ok := byMethod[ins.Method]; !ok {
			order = append(order, ins.Method)
		}
		byMethod[ins.Method] = append(byMethod[ins.Method], ins)
	}

	methods := make(map[string]int, len(cf.Methods))
	for i := range cf.Methods {
		if sig, err := cf.Methods[i].Signature(cf.Pool); err == nil {
			methods[sig] = i
		}
	}

	// Rewrite into fresh Code values first so a failure in a later method
	// leaves earlier ones untouched.
	rewritten := make(map[int]*classfile.Code, len(order))
	for _, sig := range order {
		path := []string{className, sig}
		idx, ok := methods[sig]
		if !ok {
			return clerrors.Unresolved(path, "method not found")
		}
		code := cf.Methods[idx].Code()
		if code == nil {
			return clerrors.Unresolved(path, "method has no code")
		}
		out, err := spliceMethod(code, byMethod[sig], path)
		if err != nil {
			return err
		}
		rewritten[idx] = out
		Logger().Debug("method rewritten",
			zap.Strings("path", path),
			zap.Int("insertions", len(byMethod[sig])),
			zap.Int("code_length", out.Length()))
	}

	for idx, code := range rewritten {
		attrs := cf.Methods[idx].Attributes
		for i := range attrs {
			if attrs[i].Code != nil {
				attrs[i].Code = code
			}
		}
	}
	return nil
}
