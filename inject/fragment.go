package inject

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/classinject/classfile"
	clerrors "github.com/wippyai/classinject/errors"
)

// Placeholders substituted into fragment operands for each target method.
const (
	VarClass      = "${class}"      // internal name of the target class
	VarMethod     = "${method}"     // name of the target method
	VarDescriptor = "${descriptor}" // descriptor of the target method
)

type operandShape uint8

const (
	shapeNone operandShape = iota
	shapeInt
	shapeArrayType
	shapeLocal
	shapeIinc
	shapeConst
	shapeField
	shapeMethod
	shapeClass
	shapeMultiArray
)

// fragmentOp is one parsed fragment line with its operand still symbolic.
type fragmentOp struct {
	text  string // string literal, class name or member owner
	name  string // member name
	desc  string // member descriptor
	num   int64  // immediate, slot, array type or dimensions
	delta int64  // iinc increment
	float float64
	line  int
	tag   classfile.ConstantTag
	shape operandShape
	op    classfile.Opcode
}

// Fragment is a parsed instruction template. Symbolic operands are resolved
// against a target class's constant pool when the fragment is planned.
type Fragment struct {
	source   string
	ops      []fragmentOp
	peak     int
	maxLocal int
	minStore int
}

// String returns the fragment source text.
func (f *Fragment) String() string { return f.source }

// Len returns the number of instructions in the fragment.
func (f *Fragment) Len() int { return len(f.ops) }

// StackDelta returns the peak operand stack depth the fragment reaches on
// top of whatever the method already holds at the insertion point.
func (f *Fragment) StackDelta() int { return f.peak }

// MaxLocal returns one past the highest local slot the fragment touches.
func (f *Fragment) MaxLocal() int { return f.maxLocal }

// MinStore returns the lowest local slot the fragment writes, or -1 when it
// writes none.
func (f *Fragment) MinStore() int { return f.minStore }

var arrayTypes = map[string]int64{
	"boolean": 4, "char": 5, "float": 6, "double": 7,
	"byte": 8, "short": 9, "int": 10, "long": 11,
}

// ParseFragment parses fragment text assembly, one instruction per line:
//
//	getstatic java/lang/System.out:Ljava/io/PrintStream;
//	ldc "enter ${class}.${method}"
//	invokevirtual java/io/PrintStream.println(Ljava/lang/String;)V
//
// Comments start with '#' or "//". Member references are written
// owner.name:descriptor for fields and owner.name(args)ret for methods; an
// "interface " prefix makes invokestatic and invokespecial use an
// InterfaceMethodref. ldc accepts a quoted string, a name.class literal, or
// an int or float; ldc2_w accepts a long or a double.
//
// A fragment must not branch, return, throw or enter monitors, must never pop
// below its own starting depth, and must leave the stack as it found it.
func ParseFragment(src string) (*Fragment, error) {
	f := &Fragment{source: src}
	for i, raw := range strings.Split(src, "\n") {
		line := strings.TrimSpace(stripComment(raw))
		if line == "" {
			continue
		}
		mnemonic, operand := line, ""
		if cut := strings.IndexAny(line, " \t"); cut >= 0 {
			mnemonic, operand = line[:cut], strings.TrimSpace(line[cut+1:])
		}
		op, ok := classfile.OpcodeByName(strings.ToLower(mnemonic))
		if !ok {
			return nil, clerrors.Fragment(i+1, "unknown instruction %q", mnemonic)
		}
		fop, err := parseOperand(op, operand, i+1)
		if err != nil {
			return nil, err
		}
		f.ops = append(f.ops, fop)
	}
	if len(f.ops) == 0 {
		return nil, clerrors.Fragment(1, "fragment has no instructions")
	}
	if err := f.check(); err != nil {
		return nil, err
	}
	return f, nil
}

// MustParseFragment is like ParseFragment but panics on error.
func MustParseFragment(src string) *Fragment {
	f, err := ParseFragment(src)
	if err != nil {
		panic(err)
	}
	return f
}

func stripComment(s string) string {
	quoted, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case !quoted && c == '#':
			return s[:i]
		case !quoted && c == '/' && i+1 < len(s) && s[i+1] == '/':
			return s[:i]
		}
	}
	return s
}

func shapeOf(op classfile.Opcode) (operandShape, string) {
	switch {
	case op.IsBranch(), op == classfile.OpRet:
		return 0, "control transfers are not allowed in a fragment"
	case op.IsReturn(), op == classfile.OpAThrow:
		return 0, "a fragment must fall through to the instrumented code"
	}
	switch op {
	case classfile.OpMonitorEnter, classfile.OpMonitorExit:
		return 0, "monitor instructions are not allowed in a fragment"
	case classfile.OpWide:
		return 0, "wide is chosen automatically from the operand"
	case classfile.OpInvokeDynamic:
		return 0, "invokedynamic needs a bootstrap method and cannot be templated"
	case classfile.OpBIPush, classfile.OpSIPush:
		return shapeInt, ""
	case classfile.OpNewArray:
		return shapeArrayType, ""
	case classfile.OpILoad, classfile.OpLLoad, classfile.OpFLoad, classfile.OpDLoad, classfile.OpALoad,
		classfile.OpIStore, classfile.OpLStore, classfile.OpFStore, classfile.OpDStore, classfile.OpAStore:
		return shapeLocal, ""
	case classfile.OpIInc:
		return shapeIinc, ""
	case classfile.OpLdc, classfile.OpLdcW, classfile.OpLdc2W:
		return shapeConst, ""
	case classfile.OpGetStatic, classfile.OpPutStatic, classfile.OpGetField, classfile.OpPutField:
		return shapeField, ""
	case classfile.OpInvokeVirtual, classfile.OpInvokeSpecial, classfile.OpInvokeStatic, classfile.OpInvokeInterface:
		return shapeMethod, ""
	case classfile.OpNew, classfile.OpANewArray, classfile.OpCheckCast, classfile.OpInstanceOf:
		return shapeClass, ""
	case classfile.OpMultiANewArray:
		return shapeMultiArray, ""
	}
	return shapeNone, ""
}

func parseOperand(op classfile.Opcode, operand string, line int) (fragmentOp, error) {
	shape, reject := shapeOf(op)
	if reject != "" {
		return fragmentOp{}, clerrors.Fragment(line, "%s: %s", op, reject)
	}
	fop := fragmentOp{op: op, shape: shape, line: line}
	fail := func(format string, args ...any) (fragmentOp, error) {
		return fragmentOp{}, clerrors.Fragment(line, op.String()+": "+format, args...)
	}
	if shape == shapeNone {
		if operand != "" {
			return fail("unexpected operand %q", operand)
		}
		return fop, nil
	}
	if operand == "" {
		return fail("missing operand")
	}

	switch shape {
	case shapeInt:
		bits := 8
		if op == classfile.OpSIPush {
			bits = 16
		}
		v, err := strconv.ParseInt(operand, 0, bits)
		if err != nil {
			return fail("%q is not a %d-bit integer", operand, bits)
		}
		fop.num = v

	case shapeArrayType:
		v, ok := arrayTypes[operand]
		if !ok {
			return fail("unknown primitive array type %q", operand)
		}
		fop.num = v

	case shapeLocal:
		v, err := strconv.ParseUint(operand, 10, 16)
		if err != nil {
			return fail("%q is not a local slot", operand)
		}
		fop.num = int64(v)

	case shapeIinc:
		fields := strings.Fields(operand)
		if len(fields) != 2 {
			return fail("want slot and increment, got %q", operand)
		}
		slot, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			return fail("%q is not a local slot", fields[0])
		}
		delta, err := strconv.ParseInt(fields[1], 0, 16)
		if err != nil {
			return fail("%q is not a 16-bit increment", fields[1])
		}
		fop.num, fop.delta = int64(slot), delta

	case shapeConst:
		if err := parseConstant(&fop, operand); err != nil {
			return fail("%v", err)
		}

	case shapeField:
		owner, rest, ok := splitMember(operand, ':')
		if !ok {
			return fail("want owner.name:descriptor, got %q", operand)
		}
		name, desc, _ := strings.Cut(rest, ":")
		if params, _, err := classfile.ParseMethodDescriptor("(" + desc + ")V"); err != nil || len(params) != 1 {
			return fail("bad field descriptor %q", desc)
		}
		fop.text, fop.name, fop.desc = owner, name, desc

	case shapeMethod:
		fop.tag = classfile.TagMethodref
		if op == classfile.OpInvokeInterface {
			fop.tag = classfile.TagInterfaceMethodref
		}
		if rest, ok := strings.CutPrefix(operand, "interface "); ok {
			if op == classfile.OpInvokeVirtual {
				return fail("invokevirtual cannot name an interface method")
			}
			fop.tag = classfile.TagInterfaceMethodref
			operand = strings.TrimSpace(rest)
		}
		owner, rest, ok := splitMember(operand, '(')
		if !ok {
			return fail("want owner.name(args)ret, got %q", operand)
		}
		paren := strings.IndexByte(rest, '(')
		name, desc := rest[:paren], rest[paren:]
		if _, _, err := classfile.ParseMethodDescriptor(desc); err != nil {
			return fail("bad method descriptor %q", desc)
		}
		fop.text, fop.name, fop.desc = owner, name, desc

	case shapeClass:
		if strings.ContainsAny(operand, " \t") {
			return fail("bad class name %q", operand)
		}
		fop.text = operand

	case shapeMultiArray:
		fields := strings.Fields(operand)
		if len(fields) != 2 || !strings.HasPrefix(fields[0], "[") {
			return fail("want array descriptor and dimensions, got %q", operand)
		}
		dims, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil || dims == 0 || int(dims) > strings.Count(fields[0], "[") {
			return fail("bad dimension count %q for %s", fields[1], fields[0])
		}
		fop.text, fop.num = fields[0], int64(dims)
	}

	for _, s := range []string{fop.text, fop.name} {
		if err := checkPlaceholders(s); err != nil {
			return fail("%v", err)
		}
	}
	if strings.Contains(fop.desc, "${") {
		return fail("placeholders are not allowed in descriptors")
	}
	return fop, nil
}

// splitMember splits "owner.name<sep>..." at the last '.' before sep.
func splitMember(s string, sep byte) (owner, rest string, ok bool) {
	end := strings.IndexByte(s, sep)
	if end <= 0 {
		return "", "", false
	}
	dot := strings.LastIndexByte(s[:end], '.')
	if dot <= 0 || dot == end-1 {
		return "", "", false
	}
	return s[:dot], s[dot+1:], true
}

func parseConstant(fop *fragmentOp, operand string) error {
	wide := fop.op == classfile.OpLdc2W
	switch {
	case strings.HasPrefix(operand, `"`):
		if wide {
			return fmt.Errorf("ldc2_w takes a long or double, got %s", operand)
		}
		s, err := strconv.Unquote(operand)
		if err != nil {
			return fmt.Errorf("bad string literal %s", operand)
		}
		fop.tag, fop.text = classfile.TagString, s
		return nil

	case strings.HasSuffix(operand, ".class"):
		if wide {
			return fmt.Errorf("ldc2_w takes a long or double, got %s", operand)
		}
		fop.tag, fop.text = classfile.TagClass, strings.TrimSuffix(operand, ".class")
		return nil
	}

	num := operand
	if wide {
		if n, ok := strings.CutSuffix(num, "L"); ok {
			num = n
		} else if n, ok := strings.CutSuffix(num, "l"); ok {
			num = n
		}
		if v, err := strconv.ParseInt(num, 0, 64); err == nil {
			fop.tag, fop.num = classfile.TagLong, v
			return nil
		}
		num = strings.TrimRight(operand, "dD")
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return fmt.Errorf("%q is not a long or double", operand)
		}
		fop.tag, fop.float = classfile.TagDouble, v
		return nil
	}

	i, err := strconv.ParseInt(num, 0, 32)
	if err == nil {
		fop.tag, fop.num = classfile.TagInteger, i
		return nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return fmt.Errorf("%s does not fit in an int; use ldc2_w for a long", operand)
	}
	v, err := strconv.ParseFloat(strings.TrimRight(num, "fF"), 32)
	if err != nil {
		return fmt.Errorf("%q is not an int, float, string or class literal", operand)
	}
	fop.tag, fop.float = classfile.TagFloat, v
	return nil
}

func checkPlaceholders(s string) error {
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			return nil
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			return fmt.Errorf("unterminated placeholder in %q", s)
		}
		switch v := s[start : start+end+1]; v {
		case VarClass, VarMethod, VarDescriptor:
		default:
			return fmt.Errorf("unknown placeholder %s", v)
		}
		s = s[start+end+1:]
	}
}

// target names the method a fragment is resolved for.
type target struct {
	class, method, descriptor string
}

func (t target) expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return strings.NewReplacer(VarClass, t.class, VarMethod, t.method, VarDescriptor, t.descriptor).Replace(s)
}

// Resolve interns every symbolic operand into pool and returns the concrete
// instruction sequence for the given target. Instruction offsets are zero.
func (f *Fragment) Resolve(pool *classfile.ConstantPool, class, method, descriptor string) ([]classfile.Instruction, error) {
	return f.resolve(pool, target{class: class, method: method, descriptor: descriptor})
}

func (f *Fragment) resolve(pool *classfile.ConstantPool, t target) ([]classfile.Instruction, error) {
	out := make([]classfile.Instruction, 0, len(f.ops))
	for _, fop := range f.ops {
		in := classfile.Instruction{Opcode: fop.op}
		var (
			idx uint16
			err error
		)
		switch fop.shape {
		case shapeInt, shapeArrayType:
			in.Imm = classfile.IntImm{Value: int32(fop.num)}
		case shapeLocal:
			in.Imm = classfile.LocalImm{Index: uint16(fop.num), Wide: fop.num > math.MaxUint8}
		case shapeIinc:
			in.Imm = classfile.IincImm{
				Index: uint16(fop.num),
				Delta: int16(fop.delta),
				Wide:  fop.num > math.MaxUint8 || fop.delta < math.MinInt8 || fop.delta > math.MaxInt8,
			}
		case shapeConst:
			switch fop.tag {
			case classfile.TagString:
				idx, err = pool.AddString(t.expand(fop.text))
			case classfile.TagClass:
				idx, err = pool.AddClass(t.expand(fop.text))
			case classfile.TagInteger:
				idx, err = pool.AddInteger(int32(fop.num))
			case classfile.TagFloat:
				idx, err = pool.AddFloat(float32(fop.float))
			case classfile.TagLong:
				idx, err = pool.AddLong(fop.num)
			case classfile.TagDouble:
				idx, err = pool.AddDouble(fop.float)
			}
			if fop.op == classfile.OpLdc && idx > math.MaxUint8 {
				in.Opcode = classfile.OpLdcW
			}
			in.Imm = classfile.IndexImm{Index: idx}
		case shapeField:
			idx, err = pool.AddMember(classfile.TagFieldref, t.expand(fop.text), t.expand(fop.name), fop.desc)
			in.Imm = classfile.IndexImm{Index: idx}
		case shapeMethod:
			idx, err = pool.AddMember(fop.tag, t.expand(fop.text), t.expand(fop.name), fop.desc)
			if fop.op == classfile.OpInvokeInterface {
				args, _ := classfile.ArgumentSlots(fop.desc)
				in.Imm = classfile.InvokeInterfaceImm{Index: idx, Count: uint8(1 + args)}
			} else {
				in.Imm = classfile.IndexImm{Index: idx}
			}
		case shapeClass:
			idx, err = pool.AddClass(t.expand(fop.text))
			in.Imm = classfile.IndexImm{Index: idx}
		case shapeMultiArray:
			idx, err = pool.AddClass(t.expand(fop.text))
			in.Imm = classfile.MultiANewArrayImm{Index: idx, Dims: uint8(fop.num)}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// check resolves the fragment against a scratch pool and walks its stack
// effects: it must never dip below its starting depth and must end there.
func (f *Fragment) check() error {
	pool := classfile.NewConstantPool()
	insns, err := f.resolve(pool, target{class: "Fragment", method: "m", descriptor: "()V"})
	if err != nil {
		return clerrors.New(clerrors.PhasePlan, clerrors.KindInvalidFragment).Cause(err).Detail("resolve").Build()
	}
	depth := 0
	for i := range insns {
		line := f.ops[i].line
		eff, err := classfile.InstructionStackEffect(pool, &insns[i])
		if err != nil {
			return clerrors.Fragment(line, "%v", err)
		}
		if depth < eff.Pops {
			return clerrors.Fragment(line, "%s pops %d slots but only %d were pushed by the fragment", insns[i].Opcode, eff.Pops, depth)
		}
		depth += eff.Delta()
		if depth > f.peak {
			f.peak = depth
		}
	}
	if depth != 0 {
		return clerrors.Fragment(f.ops[len(f.ops)-1].line, "fragment leaves %d slots on the stack", depth)
	}
	f.maxLocal = classfile.MaxLocalSlot(insns)
	f.minStore = -1
	for i := range insns {
		if !writesLocal(insns[i].Opcode) {
			continue
		}
		if slot, _, _ := insns[i].LocalSlot(); f.minStore < 0 || slot < f.minStore {
			f.minStore = slot
		}
	}
	return nil
}

func writesLocal(op classfile.Opcode) bool {
	return op >= classfile.OpIStore && op <= classfile.OpAStore3 || op == classfile.OpIInc
}
