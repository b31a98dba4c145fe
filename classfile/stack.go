package classfile

import (
	"fmt"
)

// StackEffect is the number of operand stack slots an instruction pops and
// pushes. Long and double values count as two slots.
type StackEffect struct {
	Pops   int
	Pushes int
}

// Delta returns the net change in stack depth.
func (e StackEffect) Delta() int {
	return e.Pushes - e.Pops
}

var fixedEffects = func() [256]*StackEffect {
	var t [256]*StackEffect
	set := func(pops, pushes int, ops ...Opcode) {
		for _, op := range ops {
			t[op] = &StackEffect{Pops: pops, Pushes: pushes}
		}
	}
	set(0, 0, OpNop, OpIInc, OpGoto, OpGotoW, OpRet, OpReturn)
	set(0, 1, OpAConstNull, OpIConstM1, OpIConst0, OpIConst1, OpIConst2, OpIConst3, OpIConst4, OpIConst5,
		OpFConst0, OpFConst1, OpFConst2, OpBIPush, OpSIPush, OpLdc, OpLdcW,
		OpILoad, OpFLoad, OpALoad, OpILoad0, OpILoad1, OpILoad2, OpILoad3,
		OpFLoad0, OpFLoad1, OpFLoad2, OpFLoad3, OpALoad0, OpALoad1, OpALoad2, OpALoad3,
		OpNew, OpJsr, OpJsrW)
	set(0, 2, OpLConst0, OpLConst1, OpDConst0, OpDConst1, OpLdc2W,
		OpLLoad, OpDLoad, OpLLoad0, OpLLoad1, OpLLoad2, OpLLoad3, OpDLoad0, OpDLoad1, OpDLoad2, OpDLoad3)
	set(2, 1, OpIALoad, OpFALoad, OpAALoad, OpBALoad, OpCALoad, OpSALoad,
		OpIAdd, OpFAdd, OpISub, OpFSub, OpIMul, OpFMul, OpIDiv, OpFDiv, OpIRem, OpFRem,
		OpIShl, OpIShr, OpIUshr, OpIAnd, OpIOr, OpIXor, OpFCmpL, OpFCmpG, OpL2I, OpL2F, OpD2I, OpD2F)
	set(2, 2, OpLALoad, OpDALoad, OpSwap, OpLNeg, OpDNeg, OpL2D, OpD2L)
	set(1, 0, OpIStore, OpFStore, OpAStore, OpIStore0, OpIStore1, OpIStore2, OpIStore3,
		OpFStore0, OpFStore1, OpFStore2, OpFStore3, OpAStore0, OpAStore1, OpAStore2, OpAStore3,
		OpPop, OpIfEQ, OpIfNE, OpIfLT, OpIfGE, OpIfGT, OpIfLE, OpIfNull, OpIfNonNull,
		OpTableSwitch, OpLookupSwitch, OpIReturn, OpFReturn, OpAReturn, OpAThrow,
		OpMonitorEnter, OpMonitorExit)
	set(2, 0, OpLStore, OpDStore, OpLStore0, OpLStore1, OpLStore2, OpLStore3,
		OpDStore0, OpDStore1, OpDStore2, OpDStore3, OpPop2,
		OpIfICmpEQ, OpIfICmpNE, OpIfICmpLT, OpIfICmpGE, OpIfICmpGT, OpIfICmpLE, OpIfACmpEQ, OpIfACmpNE,
		OpLReturn, OpDReturn)
	set(3, 0, OpIAStore, OpFAStore, OpAAStore, OpBAStore, OpCAStore, OpSAStore)
	set(4, 0, OpLAStore, OpDAStore)
	set(1, 2, OpDup, OpI2L, OpI2D, OpF2L, OpF2D)
	set(2, 3, OpDupX1)
	set(3, 4, OpDupX2)
	set(2, 4, OpDup2)
	set(3, 5, OpDup2X1)
	set(4, 6, OpDup2X2)
	set(4, 2, OpLAdd, OpDAdd, OpLSub, OpDSub, OpLMul, OpDMul, OpLDiv, OpDDiv, OpLRem, OpDRem,
		OpLAnd, OpLOr, OpLXor)
	set(3, 2, OpLShl, OpLShr, OpLUshr)
	set(1, 1, OpINeg, OpFNeg, OpI2F, OpF2I, OpI2B, OpI2C, OpI2S,
		OpNewArray, OpANewArray, OpArrayLength, OpCheckCast, OpInstanceOf)
	set(4, 1, OpLCmp, OpDCmpL, OpDCmpG)
	return t
}()

// InstructionStackEffect returns the stack effect of in. Field and invoke
// instructions resolve their descriptors through pool.
func InstructionStackEffect(pool *ConstantPool, in *Instruction) (StackEffect, error) {
	if e := fixedEffects[in.Opcode]; e != nil {
		return *e, nil
	}
	switch in.Opcode {
	case OpGetStatic, OpPutStatic, OpGetField, OpPutField:
		ref, err := pool.Member(operandIndex(in.Imm))
		if err != nil {
			return StackEffect{}, err
		}
		n := TypeSlots(ref.Descriptor)
		switch in.Opcode {
		case OpGetStatic:
			return StackEffect{Pushes: n}, nil
		case OpPutStatic:
			return StackEffect{Pops: n}, nil
		case OpGetField:
			return StackEffect{Pops: 1, Pushes: n}, nil
		default:
			return StackEffect{Pops: 1 + n}, nil
		}
	case OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic, OpInvokeInterface:
		ref, err := pool.Member(operandIndex(in.Imm))
		if err != nil {
			return StackEffect{}, err
		}
		return invokeEffect(ref.Descriptor, in.Opcode != OpInvokeStatic)
	case OpInvokeDynamic:
		desc, err := pool.InvokeDynamicDescriptor(operandIndex(in.Imm))
		if err != nil {
			return StackEffect{}, err
		}
		return invokeEffect(desc, false)
	case OpMultiANewArray:
		imm, _ := in.Imm.(MultiANewArrayImm)
		return StackEffect{Pops: int(imm.Dims), Pushes: 1}, nil
	}
	return StackEffect{}, fmt.Errorf("no stack effect for %s", in.Opcode)
}

func invokeEffect(desc string, receiver bool) (StackEffect, error) {
	params, ret, err := ParseMethodDescriptor(desc)
	if err != nil {
		return StackEffect{}, err
	}
	var e StackEffect
	if receiver {
		e.Pops = 1
	}
	for _, p := range params {
		e.Pops += TypeSlots(p)
	}
	e.Pushes = TypeSlots(ret)
	return e, nil
}

// MaxStackDepth computes the deepest operand stack any path through the code
// can reach. Exception handlers are entered with a depth of one.
func (c *Code) MaxStackDepth(pool *ConstantPool) (int, error) {
	if len(c.Instructions) == 0 {
		return 0, nil
	}
	depth := make([]int, len(c.Instructions))
	for i := range depth {
		depth[i] = -1
	}
	var work []int
	enter := func(off, d int) error {
		idx, ok := c.InstructionAt(off)
		if !ok {
			return fmt.Errorf("control transfer to %d is not an instruction boundary", off)
		}
		if depth[idx] >= d {
			return nil
		}
		if d > 0xFFFF {
			return fmt.Errorf("stack depth at %d grows without bound", off)
		}
		depth[idx] = d
		work = append(work, idx)
		return nil
	}

	if err := enter(0, 0); err != nil {
		return 0, err
	}
	for _, h := range c.ExceptionTable {
		if err := enter(h.HandlerPC, 1); err != nil {
			return 0, err
		}
	}

	maxDepth := 0
	for len(work) > 0 {
		idx := work[len(work)-1]
		work = work[:len(work)-1]
		in := &c.Instructions[idx]
		d := depth[idx]

		eff, err := InstructionStackEffect(pool, in)
		if err != nil {
			return 0, fmt.Errorf("at %d: %w", in.Offset, err)
		}
		if d < eff.Pops {
			return 0, fmt.Errorf("at %d: %s pops %d slots from a stack of %d", in.Offset, in.Opcode, eff.Pops, d)
		}
		out := d - eff.Pops + eff.Pushes
		if out > maxDepth {
			maxDepth = out
		}
		if d > maxDepth {
			maxDepth = d
		}

		for _, t := range in.Targets() {
			if err := enter(t, out); err != nil {
				return 0, err
			}
		}
		switch in.Opcode {
		case OpJsr, OpJsrW:
			// The subroutine returns to the next instruction with the
			// return address consumed.
			if idx+1 < len(c.Instructions) {
				if err := enter(c.Instructions[idx+1].Offset, d); err != nil {
					return 0, err
				}
			}
			continue
		}
		if !in.Opcode.EndsBlock() && idx+1 < len(c.Instructions) {
			if err := enter(c.Instructions[idx+1].Offset, out); err != nil {
				return 0, err
			}
		}
	}
	return maxDepth, nil
}

// MaxLocalSlot returns one past the highest local slot any instruction
// touches.
func (c *Code) MaxLocalSlot() int {
	return MaxLocalSlot(c.Instructions)
}

// MaxLocalSlot returns one past the highest local slot touched by insns.
func MaxLocalSlot(insns []Instruction) int {
	n := 0
	for i := range insns {
		if slot, width, ok := insns[i].LocalSlot(); ok && slot+width > n {
			n = slot + width
		}
	}
	return n
}
