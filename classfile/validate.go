package classfile

import (
	"strconv"

	clerrors "github.com/wippyai/classinject/errors"
)

// Validate performs structural checks on every method body: instruction
// operands resolve to pool entries of the right kind, control transfers land
// on instruction boundaries, stack map frames expand cleanly, and the declared
// max_stack and max_locals cover what the code actually uses.
func (cf *ClassFile) Validate() error {
	className, err := cf.Name()
	if err != nil {
		return withPath(err, "this_class")
	}
	for i := range cf.Methods {
		m := &cf.Methods[i]
		code := m.Code()
		if code == nil {
			continue
		}
		sig, err := m.Signature(cf.Pool)
		if err != nil {
			sig = "methods." + strconv.Itoa(i)
		}
		if err := cf.validateCode(m, code, []string{className, sig}); err != nil {
			return err
		}
	}
	return nil
}

func (cf *ClassFile) validateCode(m *Member, code *Code, path []string) error {
	fail := func(off int, format string, args ...any) error {
		return clerrors.New(clerrors.PhaseValidate, clerrors.KindMalformedUnit).
			Path(path...).Offset(off).Detail(format, args...).Build()
	}

	if len(code.Instructions) == 0 {
		return fail(-1, "empty code")
	}
	length := 0
	for i := range code.Instructions {
		in := &code.Instructions[i]
		if in.Offset != length {
			return fail(in.Offset, "instruction %d is not laid out (expected offset %d)", i, length)
		}
		length += in.Size()
		if tags := operandTags(in.Opcode); tags != nil {
			idx := operandIndex(in.Imm)
			if !cf.Pool.Is(idx, tags...) {
				e := clerrors.BadReference(path, int(idx), cf.Pool.Count(), tags[0].String())
				e.Phase = clerrors.PhaseValidate
				e.Offset = in.Offset
				return e
			}
		}
		for _, t := range in.Targets() {
			if _, ok := code.InstructionAt(t); !ok {
				return fail(in.Offset, "branch target %d is not an instruction boundary", t)
			}
		}
	}
	if length > MaxCodeLength {
		return clerrors.New(clerrors.PhaseValidate, clerrors.KindCodeTooLarge).
			Path(path...).Value(length).Detail("code length %d", length).Build()
	}

	boundary := func(off int) bool {
		_, ok := code.InstructionAt(off)
		return ok
	}
	for _, h := range code.ExceptionTable {
		if !boundary(h.StartPC) || !boundary(h.HandlerPC) || (h.EndPC != length && !boundary(h.EndPC)) || h.StartPC >= h.EndPC {
			return fail(h.StartPC, "exception range [%d,%d) -> %d is not on instruction boundaries", h.StartPC, h.EndPC, h.HandlerPC)
		}
	}

	if smt := code.StackMap(); smt != nil {
		for _, f := range smt.Frames {
			if !boundary(f.Offset) {
				return fail(f.Offset, "stack map frame at %d is not an instruction boundary", f.Offset)
			}
		}
		initial, err := cf.InitialLocals(m)
		if err != nil {
			return clerrors.Wrap(clerrors.PhaseValidate, clerrors.KindMalformedUnit, err, "method descriptor")
		}
		if _, err := smt.Expand(initial); err != nil {
			return clerrors.Wrap(clerrors.PhaseValidate, clerrors.KindMalformedUnit, err, "stack map table")
		}
	}

	depth, err := code.MaxStackDepth(cf.Pool)
	if err != nil {
		return clerrors.Wrap(clerrors.PhaseValidate, clerrors.KindMalformedUnit, err, "stack depth")
	}
	if depth > int(code.MaxStack) {
		return fail(-1, "max_stack %d is below computed depth %d", code.MaxStack, depth)
	}
	if n := code.MaxLocalSlot(); n > int(code.MaxLocals) {
		return fail(-1, "max_locals %d is below highest used slot %d", code.MaxLocals, n)
	}
	return nil
}
