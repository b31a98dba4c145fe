package inject

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/classinject/classfile"
)

// MethodMatcher decides whether a method of a class is instrumented.
type MethodMatcher interface {
	MatchMethod(class, signature string) bool
}

// CallMatcher decides whether an invoke site is instrumented.
type CallMatcher interface {
	MatchCall(ref classfile.MemberRef) bool
}

// ExactMethodMatcher matches one "name(args)ret" signature, optionally
// restricted to one class.
type ExactMethodMatcher struct {
	class     string
	signature string
}

// NewExactMethodMatcher creates a matcher. An empty class matches any class.
func NewExactMethodMatcher(class, signature string) *ExactMethodMatcher {
	return &ExactMethodMatcher{class: class, signature: signature}
}

// MatchMethod returns true if class and signature match exactly.
func (m *ExactMethodMatcher) MatchMethod(class, signature string) bool {
	if m.class != "" && m.class != class {
		return false
	}
	return m.signature == signature
}

// ExactCallMatcher matches invoke targets written owner.name(args)ret.
type ExactCallMatcher struct {
	targets map[string]bool
}

// NewExactCallMatcher creates a matcher from a list of call targets.
func NewExactCallMatcher(targets ...string) *ExactCallMatcher {
	m := &ExactCallMatcher{targets: make(map[string]bool, len(targets))}
	for _, t := range targets {
		m.targets[t] = true
	}
	return m
}

// MatchCall returns true if the resolved reference is one of the targets.
func (m *ExactCallMatcher) MatchCall(ref classfile.MemberRef) bool {
	if ref.Tag == classfile.TagFieldref {
		return false
	}
	return m.targets[ref.String()]
}

// checkCallTarget reports whether s is written owner.name(args)ret.
func checkCallTarget(s string) error {
	paren := strings.IndexByte(s, '(')
	if paren < 0 {
		return fmt.Errorf("%s has no descriptor", strconv.Quote(s))
	}
	dot := strings.LastIndexByte(s[:paren], '.')
	if dot <= 0 || dot == paren-1 {
		return fmt.Errorf("%s is not owner.name(args)ret", strconv.Quote(s))
	}
	_, _, err := classfile.ParseMethodDescriptor(s[paren:])
	return err
}

// sites returns the code offsets a policy inserts at in one method.
func sites(pool *classfile.ConstantPool, code *classfile.Code, p *Policy, calls CallMatcher) []int {
	switch p.Point {
	case PointEntry:
		return []int{0}
	case PointOffset:
		return []int{p.Offset}
	}
	var out []int
	for i := range code.Instructions {
		in := &code.Instructions[i]
		switch {
		case p.Point == PointExit && in.Opcode.IsReturn():
			out = append(out, in.Offset)
		case p.Point == PointBeforeCall && in.Opcode.IsInvoke() && in.Opcode != classfile.OpInvokeDynamic:
			ref, err := pool.Member(invokeIndex(in))
			if err == nil && calls.MatchCall(ref) {
				out = append(out, in.Offset)
			}
		}
	}
	return out
}

func invokeIndex(in *classfile.Instruction) uint16 {
	switch imm := in.Imm.(type) {
	case classfile.IndexImm:
		return imm.Index
	case classfile.InvokeInterfaceImm:
		return imm.Index
	}
	return 0
}
