package rewrite

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/classinject/classfile"
	clerrors "github.com/wippyai/classinject/errors"
)

// offsetMap translates offsets in the original code array to offsets in the
// spliced one. Each original instruction has three anchors: where its
// leading (entry) fragments start, where its attached fragments start, and
// where the instruction itself now lives.
type offsetMap struct {
	old    *classfile.Code
	out    []classfile.Instruction
	first  []int
	site   []int
	instr  []int
	oldLen int
	newLen int
	bad    int
}

func (m *offsetMap) through(table []int) func(int) int {
	return func(off int) int {
		if off == m.oldLen {
			return m.newLen
		}
		i, ok := m.old.InstructionAt(off)
		if !ok {
			if m.bad < 0 {
				m.bad = off
			}
			return off
		}
		return m.out[table[i]].Offset
	}
}

// spliceMethod returns a rewritten copy of code with every insertion
// spliced in and every offset-bearing structure re-derived.
func spliceMethod(code *classfile.Code, insertions []Insertion, path []string) (*classfile.Code, error) {
	n := len(code.Instructions)
	lead := make([][]Insertion, n)
	attached := make([][]Insertion, n)
	peak, maxLocal := 0, 0
	for _, ins := range insertions {
		idx, ok := code.InstructionAt(ins.Offset)
		if !ok {
			return nil, overlapError(code, ins.Offset, path)
		}
		if ins.Kind == PointEntry {
			lead[idx] = append(lead[idx], ins)
		} else {
			attached[idx] = append(attached[idx], ins)
		}
		if ins.StackDelta > peak {
			peak = ins.StackDelta
		}
		if ins.MaxLocal > maxLocal {
			maxLocal = ins.MaxLocal
		}
	}

	m := &offsetMap{
		old:    code,
		first:  make([]int, n),
		site:   make([]int, n),
		instr:  make([]int, n),
		oldLen: code.Length(),
		bad:    -1,
	}
	out := make([]classfile.Instruction, 0, n+len(insertions)*4)
	for i, in := range code.Instructions {
		m.first[i] = len(out)
		for _, ins := range lead[i] {
			out = append(out, ins.Fragment...)
		}
		m.site[i] = len(out)
		for _, ins := range attached[i] {
			out = append(out, ins.Fragment...)
		}
		m.instr[i] = len(out)
		out = append(out, in)
	}
	m.out = out
	m.newLen = classfile.Layout(out)

	if m.newLen > classfile.MaxCodeLength {
		return nil, clerrors.New(clerrors.PhaseRewrite, clerrors.KindCodeTooLarge).
			Path(path...).Value(m.newLen).
			Detail("code grows to %d bytes, format allows %d", m.newLen, classfile.MaxCodeLength).Build()
	}

	result := code.Clone()
	result.Instructions = out

	site := m.through(m.site)
	first := m.through(m.first)
	instr := m.through(m.instr)

	for i := range code.Instructions {
		result.Instructions[m.instr[i]].MapTargets(site)
	}
	if err := checkBranches(result.Instructions, path); err != nil {
		return nil, err
	}

	for i := range result.ExceptionTable {
		h := &result.ExceptionTable[i]
		h.StartPC, h.EndPC, h.HandlerPC = site(h.StartPC), site(h.EndPC), site(h.HandlerPC)
	}

	for i := range result.Attributes {
		a := &result.Attributes[i]
		switch {
		case a.StackMap != nil:
			a.StackMap.MapOffsets(site, instr)
		case a.Lines != nil:
			for j := range a.Lines.Entries {
				e := &a.Lines.Entries[j]
				e.StartPC = first(e.StartPC)
			}
		case a.Locals != nil:
			for j := range a.Locals.Entries {
				e := &a.Locals.Entries[j]
				e.Start, e.End = first(e.Start), site(e.End)
			}
		default:
			Logger().Warn("code attribute offsets not re-derived",
				zap.Strings("path", path), zap.String("attribute", a.Name))
		}
	}
	if m.bad >= 0 {
		return nil, clerrors.New(clerrors.PhaseRewrite, clerrors.KindMalformedUnit).
			Path(path...).Offset(m.bad).Detail("offset %d is not an instruction boundary", m.bad).Build()
	}

	if peak > 0 {
		stack := int(code.MaxStack) + peak
		if stack > math.MaxUint16 {
			return nil, clerrors.Overflow(clerrors.PhaseRewrite, path, stack, "max_stack")
		}
		result.MaxStack = uint16(stack)
	}
	if maxLocal > int(result.MaxLocals) {
		if maxLocal > math.MaxUint16 {
			return nil, clerrors.Overflow(clerrors.PhaseRewrite, path, maxLocal, "max_locals")
		}
		result.MaxLocals = uint16(maxLocal)
	}
	return result, nil
}

// checkBranches reports the first 16-bit branch whose displacement no longer
// fits.
func checkBranches(insns []classfile.Instruction, path []string) error {
	for i := range insns {
		in := &insns[i]
		b, ok := in.Imm.(classfile.BranchImm)
		if !ok || in.Opcode == classfile.OpGotoW || in.Opcode == classfile.OpJsrW {
			continue
		}
		if d := b.Target - in.Offset; d < math.MinInt16 || d > math.MaxInt16 {
			return clerrors.New(clerrors.PhaseRewrite, clerrors.KindBranchOutOfRange).
				Path(path...).Offset(in.Offset).Value(d).
				Detail("%s displacement %d exceeds 16 bits", in.Opcode, d).Build()
		}
	}
	return nil
}

func overlapError(code *classfile.Code, off int, path []string) error {
	length := code.Length()
	if off < 0 || off >= length {
		return clerrors.New(clerrors.PhaseRewrite, clerrors.KindOverlappingInjection).
			Path(path...).Offset(off).Value(off).
			Detail("insertion point is outside the %d-byte code array", length).Build()
	}
	insns := code.Instructions
	i := sort.Search(len(insns), func(i int) bool { return insns[i].Offset > off }) - 1
	return clerrors.Overlapping(path, off, insns[i].Offset, insns[i].Size())
}
