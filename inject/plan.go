package inject

import (
	"go.uber.org/zap"

	"github.com/wippyai/classinject/classfile"
	clerrors "github.com/wippyai/classinject/errors"
	"github.com/wippyai/classinject/inject/internal/rewrite"
)

// Insertion is one planned fragment at one site of one method.
type Insertion = rewrite.Insertion

// Plan is the ordered list of insertions for one class.
type Plan struct {
	Class      string
	Insertions []Insertion
	Matched    int // methods matched by at least one policy
	Skipped    int // sites where the fragment was already present
}

// Empty reports whether the plan inserts nothing.
func (p *Plan) Empty() bool { return len(p.Insertions) == 0 }

// NewPlan matches policies against cf and resolves each fragment for every
// site it applies to. Fragment constants are interned into cf's pool, so cf
// should be a private copy.
//
// Fragments landing ahead of the same instruction form one contiguous run
// once spliced: entry and offset fragments start at the site instruction,
// exit and before-call fragments end just before it. A fragment already found
// in the run next to its site is skipped, whatever order the run holds, so
// planning the same policies over their own output yields an empty plan.
// Zero matches is not an error.
//
// A fragment that stores into a local slot the method already uses is
// rejected: frames recorded for the method would no longer describe it.
func NewPlan(cf *classfile.ClassFile, policies ...Policy) (*Plan, error) {
	className, err := cf.Name()
	if err != nil {
		return nil, clerrors.Wrap(clerrors.PhasePlan, clerrors.KindMalformedUnit, err, "this_class")
	}
	for i := range policies {
		if err := policies[i].Validate(); err != nil {
			return nil, err
		}
	}

	plan := &Plan{Class: className}
	matched := make(map[int]bool)
	var groups []*siteGroup
	byKey := make(map[siteKey]*siteGroup)
	for pi := range policies {
		p := &policies[pi]
		methods := NewExactMethodMatcher(p.Class, p.Method)
		calls := NewExactCallMatcher(p.Call)
		for mi := range cf.Methods {
			m := &cf.Methods[mi]
			code := m.Code()
			if code == nil {
				continue
			}
			sig, err := m.Signature(cf.Pool)
			if err != nil {
				return nil, clerrors.Wrap(clerrors.PhasePlan, clerrors.KindBadConstantReference, err, "method signature")
			}
			if !methods.MatchMethod(className, sig) {
				continue
			}
			matched[mi] = true

			offsets := sites(cf.Pool, code, p, calls)
			if len(offsets) == 0 {
				continue
			}
			if low := p.Fragment.MinStore(); low >= 0 && low < int(code.MaxLocals) {
				return nil, clerrors.New(clerrors.PhasePlan, clerrors.KindInvalidFragment).
					Path("policy", p.label(), sig).
					Detail("fragment stores into local %d but the method owns slots 0-%d", low, code.MaxLocals-1).
					Build()
			}
			name, desc, _ := splitSignature(sig)
			fragment, err := p.Fragment.Resolve(cf.Pool, className, name, desc)
			if err != nil {
				return nil, err
			}
			for _, off := range offsets {
				key := siteKey{method: mi, index: -1, offset: off, forward: p.Point == PointEntry || p.Point == PointOffset}
				if idx, ok := code.InstructionAt(off); ok {
					key.index, key.offset = idx, 0
				}
				g := byKey[key]
				if g == nil {
					g = &siteGroup{key: key, sig: sig, code: code}
					byKey[key] = g
					groups = append(groups, g)
				}
				g.cands = append(g.cands, candidate{policy: p, fragment: fragment, offset: off})
			}
		}
	}

	for _, g := range groups {
		found := g.present()
		for i, c := range g.cands {
			if found[i] {
				plan.Skipped++
				Logger().Debug("fragment already present",
					zap.String("class", className),
					zap.String("method", g.sig),
					zap.String("policy", c.policy.label()),
					zap.Int("offset", c.offset))
				continue
			}
			plan.Insertions = append(plan.Insertions, Insertion{
				Method:     g.sig,
				Kind:       c.policy.Point,
				Fragment:   c.fragment,
				Offset:     c.offset,
				StackDelta: c.policy.Fragment.StackDelta(),
				MaxLocal:   c.policy.Fragment.MaxLocal(),
			})
		}
	}
	plan.Matched = len(matched)
	return plan, nil
}

// siteKey identifies the run of fragments ahead of one instruction. Sites
// that are not instruction boundaries get an index of -1 and keep their
// offset; the rewriter rejects them.
type siteKey struct {
	method  int
	index   int
	offset  int
	forward bool
}

type candidate struct {
	policy   *Policy
	fragment []classfile.Instruction
	offset   int
}

type siteGroup struct {
	key   siteKey
	sig   string
	code  *classfile.Code
	cands []candidate
}

// present reports, per candidate, whether its fragment is already in the
// run adjacent to the site. The run is consumed greedily from the site
// outward, preferring the longest fragment that fits. A candidate identical
// to an earlier one in the group counts as present.
func (g *siteGroup) present() []bool {
	found := make([]bool, len(g.cands))
	for i := range g.cands {
		for j := 0; j < i; j++ {
			if g.cands[j].policy.Point == g.cands[i].policy.Point && sameInstructions(g.cands[j].fragment, g.cands[i].fragment) {
				found[i] = true
				break
			}
		}
	}
	if g.key.index < 0 {
		return found
	}

	insns := g.code.Instructions
	used := append([]bool(nil), found...)
	pos := g.key.index
	for {
		best := -1
		for i, c := range g.cands {
			n := len(c.fragment)
			if used[i] || n == 0 || (best >= 0 && n <= len(g.cands[best].fragment)) {
				continue
			}
			start := pos
			if !g.key.forward {
				start = pos - n
			}
			if start < 0 || start+n > len(insns) || !sameInstructions(insns[start:start+n], c.fragment) {
				continue
			}
			best = i
		}
		if best < 0 {
			return found
		}
		used[best], found[best] = true, true
		if g.key.forward {
			pos += len(g.cands[best].fragment)
		} else {
			pos -= len(g.cands[best].fragment)
		}
	}
}

// sameInstructions compares opcodes and immediates, ignoring offsets.
// Fragment immediates are comparable, so == on the interfaces never panics.
func sameInstructions(a, b []classfile.Instruction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Opcode != b[i].Opcode || a[i].Imm != b[i].Imm {
			return false
		}
	}
	return true
}
