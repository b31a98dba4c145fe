package classfile

import (
	"fmt"
	"strings"

	"github.com/wippyai/classinject/classfile/internal/binary"
	clerrors "github.com/wippyai/classinject/errors"
)

// Instruction is a single decoded instruction. Offset is the byte offset of
// the opcode within the code array; Imm holds the typed immediate, or nil for
// instructions without operands (including the implicit-operand forms such as
// aload_0 and iconst_1).
type Instruction struct {
	Imm    interface{}
	Offset int
	Opcode Opcode
}

// IntImm is the operand of bipush, sipush and newarray.
type IntImm struct {
	Value int32
}

// IndexImm is a constant pool index operand (ldc, field and method
// instructions, new, checkcast, invokedynamic, ...).
type IndexImm struct {
	Index uint16
}

// LocalImm is a local variable slot operand. Wide marks the wide-prefixed form.
type LocalImm struct {
	Index uint16
	Wide  bool
}

// IincImm is the operand of iinc.
type IincImm struct {
	Index uint16
	Delta int16
	Wide  bool
}

// BranchImm is a branch target as an absolute code offset.
type BranchImm struct {
	Target int
}

// TableSwitchImm is the operand of tableswitch. Targets are absolute.
type TableSwitchImm struct {
	Targets []int
	Default int
	Low     int32
	High    int32
}

// LookupSwitchImm is the operand of lookupswitch. Targets are absolute and
// parallel to Keys.
type LookupSwitchImm struct {
	Keys    []int32
	Targets []int
	Default int
}

// InvokeInterfaceImm is the operand of invokeinterface.
type InvokeInterfaceImm struct {
	Index uint16
	Count uint8
}

// MultiANewArrayImm is the operand of multianewarray.
type MultiANewArrayImm struct {
	Index uint16
	Dims  uint8
}

// switchPad returns the number of padding bytes after a switch opcode at
// offset so that the operands start on a 4-byte boundary.
func switchPad(offset int) int {
	return (4 - (offset+1)%4) % 4
}

// Size returns the encoded length of the instruction at its current Offset.
func (in *Instruction) Size() int {
	switch opTable[in.Opcode].kind {
	case kindS1, kindU1, kindCP1:
		return 2
	case kindS2, kindCP2, kindBranch2:
		return 3
	case kindLocal:
		if imm, ok := in.Imm.(LocalImm); ok && imm.Wide {
			return 4
		}
		return 2
	case kindIinc:
		if imm, ok := in.Imm.(IincImm); ok && imm.Wide {
			return 6
		}
		return 3
	case kindBranch4, kindInvokeInterface, kindInvokeDynamic:
		return 5
	case kindMultiANewArray:
		return 4
	case kindTableSwitch:
		imm, _ := in.Imm.(TableSwitchImm)
		return 1 + switchPad(in.Offset) + 12 + 4*len(imm.Targets)
	case kindLookupSwitch:
		imm, _ := in.Imm.(LookupSwitchImm)
		return 1 + switchPad(in.Offset) + 8 + 8*len(imm.Keys)
	}
	return 1
}

// Targets returns every absolute branch target of the instruction.
func (in *Instruction) Targets() []int {
	switch imm := in.Imm.(type) {
	case BranchImm:
		return []int{imm.Target}
	case TableSwitchImm:
		return append([]int{imm.Default}, imm.Targets...)
	case LookupSwitchImm:
		return append([]int{imm.Default}, imm.Targets...)
	}
	return nil
}

// MapTargets rewrites every branch target through f. Switch target slices are
// replaced, never modified in place.
func (in *Instruction) MapTargets(f func(int) int) {
	switch imm := in.Imm.(type) {
	case BranchImm:
		in.Imm = BranchImm{Target: f(imm.Target)}
	case TableSwitchImm:
		targets := make([]int, len(imm.Targets))
		for i, t := range imm.Targets {
			targets[i] = f(t)
		}
		in.Imm = TableSwitchImm{Default: f(imm.Default), Low: imm.Low, High: imm.High, Targets: targets}
	case LookupSwitchImm:
		targets := make([]int, len(imm.Targets))
		for i, t := range imm.Targets {
			targets[i] = f(t)
		}
		keys := append([]int32(nil), imm.Keys...)
		in.Imm = LookupSwitchImm{Default: f(imm.Default), Keys: keys, Targets: targets}
	}
}

// LocalSlot returns the local variable slot touched by a load, store, iinc or
// ret, and the number of slots it spans.
func (in *Instruction) LocalSlot() (slot, width int, ok bool) {
	op := in.Opcode
	switch imm := in.Imm.(type) {
	case LocalImm:
		slot = int(imm.Index)
	case IincImm:
		return int(imm.Index), 1, true
	default:
		switch {
		case op >= OpILoad0 && op <= OpALoad3:
			slot = int(op-OpILoad0) % 4
			op = OpILoad + (op-OpILoad0)/4
		case op >= OpIStore0 && op <= OpAStore3:
			slot = int(op-OpIStore0) % 4
			op = OpIStore + (op-OpIStore0)/4
		default:
			return 0, 0, false
		}
	}
	switch op {
	case OpLLoad, OpDLoad, OpLStore, OpDStore:
		return slot, 2, true
	case OpILoad, OpFLoad, OpALoad, OpIStore, OpFStore, OpAStore, OpRet:
		return slot, 1, true
	}
	return 0, 0, false
}

// String renders the instruction in assembler form, e.g. "12: invokestatic #7".
func (in *Instruction) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d: %s", in.Offset, in.Opcode)
	switch imm := in.Imm.(type) {
	case IntImm:
		fmt.Fprintf(&b, " %d", imm.Value)
	case IndexImm:
		fmt.Fprintf(&b, " #%d", imm.Index)
	case LocalImm:
		fmt.Fprintf(&b, " %d", imm.Index)
	case IincImm:
		fmt.Fprintf(&b, " %d %d", imm.Index, imm.Delta)
	case BranchImm:
		fmt.Fprintf(&b, " %d", imm.Target)
	case InvokeInterfaceImm:
		fmt.Fprintf(&b, " #%d %d", imm.Index, imm.Count)
	case MultiANewArrayImm:
		fmt.Fprintf(&b, " #%d %d", imm.Index, imm.Dims)
	case TableSwitchImm:
		fmt.Fprintf(&b, " %d..%d %v default %d", imm.Low, imm.High, imm.Targets, imm.Default)
	case LookupSwitchImm:
		fmt.Fprintf(&b, " %v -> %v default %d", imm.Keys, imm.Targets, imm.Default)
	}
	return b.String()
}

// Layout assigns offsets to instructions in order starting at zero and
// returns the resulting code length. Switch padding follows the new offsets.
func Layout(insns []Instruction) int {
	off := 0
	for i := range insns {
		insns[i].Offset = off
		off += insns[i].Size()
	}
	return off
}

// operandTags lists the pool tags an instruction's index operand may name.
func operandTags(op Opcode) []ConstantTag {
	switch op {
	case OpLdc, OpLdcW:
		return []ConstantTag{TagInteger, TagFloat, TagString, TagClass, TagMethodType, TagMethodHandle, TagDynamic}
	case OpLdc2W:
		return []ConstantTag{TagLong, TagDouble, TagDynamic}
	case OpGetStatic, OpPutStatic, OpGetField, OpPutField:
		return []ConstantTag{TagFieldref}
	case OpInvokeVirtual:
		return []ConstantTag{TagMethodref}
	case OpInvokeSpecial, OpInvokeStatic:
		return []ConstantTag{TagMethodref, TagInterfaceMethodref}
	case OpInvokeInterface:
		return []ConstantTag{TagInterfaceMethodref}
	case OpInvokeDynamic:
		return []ConstantTag{TagInvokeDynamic}
	case OpNew, OpANewArray, OpCheckCast, OpInstanceOf, OpMultiANewArray:
		return []ConstantTag{TagClass}
	}
	return nil
}

// decodeInstructions decodes a code array. Branch targets are converted to
// absolute offsets and checked against instruction boundaries; pool operands
// are checked against pool tags.
func decodeInstructions(code []byte, pool *ConstantPool, path []string) ([]Instruction, error) {
	r := binary.NewReader(code)
	var insns []Instruction

	truncated := func(off int, err error) error {
		if sr, ok := err.(*binary.ShortReadError); ok {
			e := clerrors.Truncated(sr.Position, "instruction operand", sr.Need, sr.Have)
			e.Path = path
			return e
		}
		return clerrors.Malformed(off, "%v", err)
	}

	for r.Remaining() > 0 {
		off := r.Position()
		b, _ := r.ReadU1()
		op := Opcode(b)
		in := Instruction{Offset: off, Opcode: op}

		if !op.Valid() {
			return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
				Path(path...).Offset(off).Value(b).
				Detail("unknown opcode 0x%02x", b).Build()
		}

		var err error
		switch opTable[op].kind {
		case kindNone:
		case kindS1:
			var v int8
			v, err = r.ReadS1()
			in.Imm = IntImm{Value: int32(v)}
		case kindU1:
			var v uint8
			v, err = r.ReadU1()
			in.Imm = IntImm{Value: int32(v)}
		case kindS2:
			var v int16
			v, err = r.ReadS2()
			in.Imm = IntImm{Value: int32(v)}
		case kindCP1:
			var v uint8
			v, err = r.ReadU1()
			in.Imm = IndexImm{Index: uint16(v)}
		case kindCP2:
			var v uint16
			v, err = r.ReadU2()
			in.Imm = IndexImm{Index: v}
		case kindLocal:
			var v uint8
			v, err = r.ReadU1()
			in.Imm = LocalImm{Index: uint16(v)}
		case kindIinc:
			var idx uint8
			var delta int8
			if idx, err = r.ReadU1(); err == nil {
				delta, err = r.ReadS1()
			}
			in.Imm = IincImm{Index: uint16(idx), Delta: int16(delta)}
		case kindBranch2:
			var d int16
			d, err = r.ReadS2()
			in.Imm = BranchImm{Target: off + int(d)}
		case kindBranch4:
			var d int32
			d, err = r.ReadS4()
			in.Imm = BranchImm{Target: off + int(d)}
		case kindTableSwitch:
			in.Imm, err = decodeTableSwitch(r, off, path)
		case kindLookupSwitch:
			in.Imm, err = decodeLookupSwitch(r, off, path)
		case kindInvokeInterface:
			var idx uint16
			var count, zero uint8
			if idx, err = r.ReadU2(); err == nil {
				if count, err = r.ReadU1(); err == nil {
					zero, err = r.ReadU1()
				}
			}
			if err == nil && zero != 0 {
				return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
					Path(path...).Offset(off).Detail("invokeinterface trailing byte is %d", zero).Build()
			}
			in.Imm = InvokeInterfaceImm{Index: idx, Count: count}
		case kindInvokeDynamic:
			var idx, zero uint16
			if idx, err = r.ReadU2(); err == nil {
				zero, err = r.ReadU2()
			}
			if err == nil && zero != 0 {
				return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
					Path(path...).Offset(off).Detail("invokedynamic trailing bytes are %d", zero).Build()
			}
			in.Imm = IndexImm{Index: idx}
		case kindMultiANewArray:
			var idx uint16
			var dims uint8
			if idx, err = r.ReadU2(); err == nil {
				dims, err = r.ReadU1()
			}
			in.Imm = MultiANewArrayImm{Index: idx, Dims: dims}
		case kindWide:
			in, err = decodeWide(r, off, path)
		}
		if err != nil {
			if _, ok := err.(*clerrors.Error); ok {
				return nil, err
			}
			return nil, truncated(off, err)
		}

		if tags := operandTags(in.Opcode); tags != nil {
			idx := operandIndex(in.Imm)
			if !pool.Is(idx, tags...) {
				e := clerrors.BadReference(path, int(idx), pool.Count(), tags[0].String())
				e.Offset = off
				return nil, e
			}
		}
		insns = append(insns, in)
	}

	code0 := &Code{Instructions: insns}
	for i := range insns {
		for _, t := range insns[i].Targets() {
			if _, ok := code0.InstructionAt(t); !ok {
				return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
					Path(path...).Offset(insns[i].Offset).Value(t).
					Detail("branch target %d is not an instruction boundary", t).Build()
			}
		}
	}
	return insns, nil
}

func operandIndex(imm interface{}) uint16 {
	switch v := imm.(type) {
	case IndexImm:
		return v.Index
	case InvokeInterfaceImm:
		return v.Index
	case MultiANewArrayImm:
		return v.Index
	}
	return 0
}

func readPadding(r *binary.Reader, off int, path []string) error {
	for i := 0; i < switchPad(off); i++ {
		b, err := r.ReadU1()
		if err != nil {
			return err
		}
		if b != 0 {
			return clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
				Path(path...).Offset(off).Detail("non-zero switch padding byte 0x%02x", b).Build()
		}
	}
	return nil
}

func decodeTableSwitch(r *binary.Reader, off int, path []string) (interface{}, error) {
	if err := readPadding(r, off, path); err != nil {
		return nil, err
	}
	def, err := r.ReadS4()
	if err != nil {
		return nil, err
	}
	low, err := r.ReadS4()
	if err != nil {
		return nil, err
	}
	high, err := r.ReadS4()
	if err != nil {
		return nil, err
	}
	if high < low {
		return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Path(path...).Offset(off).Detail("tableswitch high %d below low %d", high, low).Build()
	}
	n := int64(high) - int64(low) + 1
	if n*4 > int64(r.Remaining()) {
		return nil, &binary.ShortReadError{Position: r.Position(), Need: int(n * 4), Have: r.Remaining()}
	}
	imm := TableSwitchImm{Default: off + int(def), Low: low, High: high, Targets: make([]int, n)}
	for i := range imm.Targets {
		d, err := r.ReadS4()
		if err != nil {
			return nil, err
		}
		imm.Targets[i] = off + int(d)
	}
	return imm, nil
}

func decodeLookupSwitch(r *binary.Reader, off int, path []string) (interface{}, error) {
	if err := readPadding(r, off, path); err != nil {
		return nil, err
	}
	def, err := r.ReadS4()
	if err != nil {
		return nil, err
	}
	npairs, err := r.ReadS4()
	if err != nil {
		return nil, err
	}
	if npairs < 0 {
		return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Path(path...).Offset(off).Detail("lookupswitch npairs %d is negative", npairs).Build()
	}
	if int64(npairs)*8 > int64(r.Remaining()) {
		return nil, &binary.ShortReadError{Position: r.Position(), Need: int(npairs) * 8, Have: r.Remaining()}
	}
	imm := LookupSwitchImm{Default: off + int(def), Keys: make([]int32, npairs), Targets: make([]int, npairs)}
	for i := 0; i < int(npairs); i++ {
		key, err := r.ReadS4()
		if err != nil {
			return nil, err
		}
		d, err := r.ReadS4()
		if err != nil {
			return nil, err
		}
		if i > 0 && key <= imm.Keys[i-1] {
			return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
				Path(path...).Offset(off).Detail("lookupswitch keys not sorted at pair %d", i).Build()
		}
		imm.Keys[i] = key
		imm.Targets[i] = off + int(d)
	}
	return imm, nil
}

func decodeWide(r *binary.Reader, off int, path []string) (Instruction, error) {
	b, err := r.ReadU1()
	if err != nil {
		return Instruction{}, err
	}
	op := Opcode(b)
	in := Instruction{Offset: off, Opcode: op}
	switch {
	case op == OpIInc:
		idx, err := r.ReadU2()
		if err != nil {
			return in, err
		}
		delta, err := r.ReadS2()
		if err != nil {
			return in, err
		}
		in.Imm = IincImm{Index: idx, Delta: delta, Wide: true}
	case opTable[op].kind == kindLocal:
		idx, err := r.ReadU2()
		if err != nil {
			return in, err
		}
		in.Imm = LocalImm{Index: idx, Wide: true}
	default:
		return in, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Path(path...).Offset(off).Detail("wide cannot modify %s", op).Build()
	}
	return in, nil
}

// encodeInstructions writes insns as a code array. Each instruction's Offset
// must match its position; call Layout after editing the stream.
func encodeInstructions(insns []Instruction, path []string) ([]byte, error) {
	w := binary.NewWriter()
	for i := range insns {
		in := &insns[i]
		off := w.Len()
		if in.Offset != off {
			return nil, clerrors.New(clerrors.PhaseWrite, clerrors.KindMalformedUnit).
				Path(path...).Offset(off).
				Detail("instruction %d claims offset %d", i, in.Offset).Build()
		}
		if err := encodeInstruction(w, in, path); err != nil {
			return nil, err
		}
	}
	if w.Len() > MaxCodeLength {
		return nil, clerrors.New(clerrors.PhaseWrite, clerrors.KindCodeTooLarge).
			Path(path...).Value(w.Len()).
			Detail("code length %d exceeds %d", w.Len(), MaxCodeLength).Build()
	}
	return w.Bytes(), nil
}

func branch16(off, target int, path []string) (uint16, error) {
	d := target - off
	if d < -32768 || d > 32767 {
		return 0, clerrors.New(clerrors.PhaseWrite, clerrors.KindBranchOutOfRange).
			Path(path...).Offset(off).Value(d).
			Detail("branch to %d does not fit a 16-bit displacement", target).Build()
	}
	return uint16(int16(d)), nil
}

func encodeInstruction(w *binary.Writer, in *Instruction, path []string) error {
	off := in.Offset
	kind := opTable[in.Opcode].kind
	if !in.Opcode.Valid() || kind == kindWide {
		return clerrors.New(clerrors.PhaseWrite, clerrors.KindMalformedUnit).
			Path(path...).Offset(off).Detail("cannot encode opcode %s", in.Opcode).Build()
	}
	bad := func() error {
		return clerrors.New(clerrors.PhaseWrite, clerrors.KindMalformedUnit).
			Path(path...).Offset(off).Value(in.Imm).
			Detail("%s has operand of type %T", in.Opcode, in.Imm).Build()
	}

	if kind == kindLocal || kind == kindIinc {
		wide := false
		switch imm := in.Imm.(type) {
		case LocalImm:
			wide = imm.Wide
		case IincImm:
			wide = imm.Wide
		}
		if wide {
			w.U1(byte(OpWide))
		}
	}
	w.U1(byte(in.Opcode))

	switch kind {
	case kindNone:
		if in.Imm != nil {
			return bad()
		}
	case kindS1, kindU1:
		imm, ok := in.Imm.(IntImm)
		if !ok {
			return bad()
		}
		w.U1(byte(imm.Value))
	case kindS2:
		imm, ok := in.Imm.(IntImm)
		if !ok {
			return bad()
		}
		w.U2(uint16(int16(imm.Value)))
	case kindCP1:
		imm, ok := in.Imm.(IndexImm)
		if !ok {
			return bad()
		}
		if imm.Index > 0xFF {
			return clerrors.Overflow(clerrors.PhaseWrite, path, imm.Index, "ldc u1 index")
		}
		w.U1(byte(imm.Index))
	case kindCP2:
		imm, ok := in.Imm.(IndexImm)
		if !ok {
			return bad()
		}
		w.U2(imm.Index)
	case kindLocal:
		imm, ok := in.Imm.(LocalImm)
		if !ok {
			return bad()
		}
		if imm.Wide {
			w.U2(imm.Index)
		} else if imm.Index > 0xFF {
			return clerrors.Overflow(clerrors.PhaseWrite, path, imm.Index, "local index without wide")
		} else {
			w.U1(byte(imm.Index))
		}
	case kindIinc:
		imm, ok := in.Imm.(IincImm)
		if !ok {
			return bad()
		}
		if imm.Wide {
			w.U2(imm.Index)
			w.U2(uint16(imm.Delta))
		} else {
			if imm.Index > 0xFF || imm.Delta < -128 || imm.Delta > 127 {
				return clerrors.Overflow(clerrors.PhaseWrite, path, imm, "iinc without wide")
			}
			w.U1(byte(imm.Index))
			w.U1(byte(int8(imm.Delta)))
		}
	case kindBranch2:
		imm, ok := in.Imm.(BranchImm)
		if !ok {
			return bad()
		}
		d, err := branch16(off, imm.Target, path)
		if err != nil {
			return err
		}
		w.U2(d)
	case kindBranch4:
		imm, ok := in.Imm.(BranchImm)
		if !ok {
			return bad()
		}
		w.U4(uint32(int32(imm.Target - off)))
	case kindTableSwitch:
		imm, ok := in.Imm.(TableSwitchImm)
		if !ok || int64(imm.High)-int64(imm.Low)+1 != int64(len(imm.Targets)) {
			return bad()
		}
		w.WriteBytes(make([]byte, switchPad(off)))
		w.U4(uint32(int32(imm.Default - off)))
		w.U4(uint32(imm.Low))
		w.U4(uint32(imm.High))
		for _, t := range imm.Targets {
			w.U4(uint32(int32(t - off)))
		}
	case kindLookupSwitch:
		imm, ok := in.Imm.(LookupSwitchImm)
		if !ok || len(imm.Keys) != len(imm.Targets) {
			return bad()
		}
		w.WriteBytes(make([]byte, switchPad(off)))
		w.U4(uint32(int32(imm.Default - off)))
		w.U4(uint32(len(imm.Keys)))
		for i, k := range imm.Keys {
			w.U4(uint32(k))
			w.U4(uint32(int32(imm.Targets[i] - off)))
		}
	case kindInvokeInterface:
		imm, ok := in.Imm.(InvokeInterfaceImm)
		if !ok {
			return bad()
		}
		w.U2(imm.Index)
		w.U1(imm.Count)
		w.U1(0)
	case kindInvokeDynamic:
		imm, ok := in.Imm.(IndexImm)
		if !ok {
			return bad()
		}
		w.U2(imm.Index)
		w.U2(0)
	case kindMultiANewArray:
		imm, ok := in.Imm.(MultiANewArrayImm)
		if !ok {
			return bad()
		}
		w.U2(imm.Index)
		w.U1(imm.Dims)
	}
	return nil
}

// EncodeInstructions lays out a copy of insns from offset zero and returns
// the bytes they would occupy in a code array.
func EncodeInstructions(insns []Instruction) ([]byte, error) {
	tmp := make([]Instruction, len(insns))
	copy(tmp, insns)
	Layout(tmp)
	return encodeInstructions(tmp, nil)
}
