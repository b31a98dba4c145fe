package classfile_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wippyai/classinject/classfile"
	clerrors "github.com/wippyai/classinject/errors"
	"github.com/wippyai/classinject/testbed"
)

// sampleClass builds a class that exercises every decoded structure: switches,
// wide forms, two-slot constants, exception handlers, stack map frames, line
// numbers, local variables and opaque attributes.
func sampleClass(t *testing.T) *testbed.ClassBuilder {
	t.Helper()
	b := testbed.NewClass("com/example/App")
	out := b.Field("java/lang/System", "out", "Ljava/io/PrintStream;")
	printLine := b.Method("java/io/PrintStream", "println", "(Ljava/lang/String;)V")
	hello := b.String("hello")
	superInit := b.Method(classfile.ObjectClass, classfile.InitName, "()V")
	helper := b.Method("com/example/App", "helper", "()V")
	exception := b.Class("java/lang/Exception")
	big := b.Long(1 << 40)
	nan, err := b.Pool().Add(classfile.Constant{Tag: classfile.TagDouble, Bits: 0x7ff8000000000123})
	if err != nil {
		t.Fatal(err)
	}

	b.AddField(classfile.AccPrivate, "count", "I")

	b.AddMethod(classfile.InitName, "()V", testbed.Body{
		MaxStack:  1,
		MaxLocals: 1,
		Code: []classfile.Instruction{
			testbed.Op(classfile.OpALoad0),
			testbed.Ref(classfile.OpInvokeSpecial, superInit),
			testbed.Op(classfile.OpReturn),
		},
	})

	thisName := b.Utf8("this")
	appDesc := b.Utf8("Lcom/example/App;")
	b.AddMethod("run", "()V", testbed.Body{
		MaxStack:  2,
		MaxLocals: 1,
		Code: []classfile.Instruction{
			testbed.Ref(classfile.OpGetStatic, out),
			testbed.Imm(classfile.OpLdc, classfile.IndexImm{Index: hello}),
			testbed.Ref(classfile.OpInvokeVirtual, printLine),
			testbed.Op(classfile.OpReturn),
		},
		Lines: []classfile.LineNumber{{StartPC: 0, Line: 10}, {StartPC: 3, Line: 11}},
		Locals: []classfile.LocalVariable{
			{Start: 0, End: 4, NameIndex: thisName, DescriptorIndex: appDesc, Index: 0},
		},
	})

	b.AddMethod("pick", "(I)I", testbed.Body{
		Access:    classfile.AccPublic | classfile.AccStatic,
		MaxStack:  1,
		MaxLocals: 2,
		Code: []classfile.Instruction{
			testbed.Op(classfile.OpILoad0),
			testbed.Imm(classfile.OpTableSwitch, classfile.TableSwitchImm{Low: 0, High: 2, Targets: []int{2, 4, 6}, Default: 8}),
			testbed.Op(classfile.OpIConst1),
			testbed.Op(classfile.OpIReturn),
			testbed.Op(classfile.OpIConst2),
			testbed.Op(classfile.OpIReturn),
			testbed.Imm(classfile.OpILoad, classfile.LocalImm{Index: 0, Wide: true}),
			testbed.Op(classfile.OpIReturn),
			testbed.Op(classfile.OpIConst0),
			testbed.Load(classfile.OpIStore, 1),
			testbed.Imm(classfile.OpIInc, classfile.IincImm{Index: 1, Delta: 1000, Wide: true}),
			testbed.Op(classfile.OpILoad1),
			testbed.Imm(classfile.OpLookupSwitch, classfile.LookupSwitchImm{Keys: []int32{-5, 100}, Targets: []int{13, 15}, Default: 15}),
			testbed.Imm(classfile.OpBIPush, classfile.IntImm{Value: -3}),
			testbed.Op(classfile.OpIReturn),
			testbed.Imm(classfile.OpSIPush, classfile.IntImm{Value: 1000}),
			testbed.Op(classfile.OpIReturn),
		},
		Frames: []classfile.StackMapFrame{
			{Type: classfile.FrameSame, Offset: 2},
			{Type: classfile.FrameSame, Offset: 4},
			{Type: classfile.FrameSame, Offset: 6},
			{Type: classfile.FrameSame, Offset: 8},
			{Type: classfile.FrameAppend, Offset: 13, Locals: []classfile.VerificationType{{Tag: classfile.VTInteger}}},
			{Type: classfile.FrameSame, Offset: 15},
		},
	})

	b.AddMethod("guarded", "()V", testbed.Body{
		Access:    classfile.AccPublic | classfile.AccStatic,
		MaxStack:  1,
		MaxLocals: 1,
		Code: []classfile.Instruction{
			testbed.Ref(classfile.OpInvokeStatic, helper),
			testbed.Jump(classfile.OpGoto, 4),
			testbed.Op(classfile.OpAStore0),
			testbed.Op(classfile.OpReturn),
			testbed.Op(classfile.OpReturn),
		},
		Handlers: []classfile.ExceptionHandler{{StartPC: 0, EndPC: 1, HandlerPC: 2, CatchType: exception}},
		Frames: []classfile.StackMapFrame{
			{Type: classfile.FrameSameLocals1, Offset: 2, Stack: []classfile.VerificationType{{Tag: classfile.VTObject, Index: exception}}},
			{Type: classfile.FrameSame, Offset: 4},
		},
	})

	b.AddMethod("wide", "()J", testbed.Body{
		Access:   classfile.AccPublic | classfile.AccStatic,
		MaxStack: 4,
		Code: []classfile.Instruction{
			testbed.Ref(classfile.OpLdc2W, big),
			testbed.Op(classfile.OpLConst1),
			testbed.Op(classfile.OpLAdd),
			testbed.Op(classfile.OpLReturn),
		},
	})

	b.AddMethod("nan", "()D", testbed.Body{
		Access:   classfile.AccPublic | classfile.AccStatic,
		MaxStack: 2,
		Code: []classfile.Instruction{
			testbed.Ref(classfile.OpLdc2W, nan),
			testbed.Op(classfile.OpDReturn),
		},
	})

	b.Abstract("shape", "()V")

	src := b.Utf8("App.java")
	b.AddAttribute("SourceFile", []byte{byte(src >> 8), byte(src)})
	return b
}

func sampleBytes(t *testing.T) []byte {
	t.Helper()
	data, err := sampleClass(t).Bytes()
	if err != nil {
		t.Fatalf("encode sample: %v", err)
	}
	return data
}

func findMethod(t *testing.T, cf *classfile.ClassFile, sig string) *classfile.Member {
	t.Helper()
	for i := range cf.Methods {
		if s, _ := cf.Methods[i].Signature(cf.Pool); s == sig {
			return &cf.Methods[i]
		}
	}
	t.Fatalf("method %s not found", sig)
	return nil
}

func TestRoundTrip(t *testing.T) {
	data := sampleBytes(t)

	cf, err := classfile.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := cf.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(data, out) {
		t.Fatalf("round trip changed bytes: %d in, %d out", len(data), len(out))
	}
	if err := cf.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestRoundTripCompiledClasses(t *testing.T) {
	tests := []struct {
		file    string
		name    string
		fields  int
		methods int
	}{
		{"HelloWorld.class", "HelloWorld", 0, 2},
		{"AClass.class", "test/AClass", 36, 23},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join("testdata", tt.file))
			if err != nil {
				t.Fatal(err)
			}
			cf, err := classfile.Parse(data)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if name, _ := cf.Name(); name != tt.name || len(cf.Fields) != tt.fields || len(cf.Methods) != tt.methods {
				t.Errorf("got %s with %d fields and %d methods", name, len(cf.Fields), len(cf.Methods))
			}
			if err := cf.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}

			out, err := cf.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !bytes.Equal(data, out) {
				t.Errorf("round trip changed bytes: %d in, %d out", len(data), len(out))
			}
		})
	}
}

func TestParseOldestVersion(t *testing.T) {
	valid := sampleBytes(t)
	for minor := byte(0); minor <= 3; minor++ {
		data := append([]byte(nil), valid...)
		data[4], data[5], data[6], data[7] = 0, minor, 0, 45
		cf, err := classfile.Parse(data)
		if err != nil {
			t.Errorf("45.%d: %v", minor, err)
			continue
		}
		if cf.MajorVersion != 45 || cf.MinorVersion != uint16(minor) {
			t.Errorf("45.%d parsed as %d.%d", minor, cf.MajorVersion, cf.MinorVersion)
		}
	}
}

func TestParseStructure(t *testing.T) {
	cf, err := classfile.Parse(sampleBytes(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	name, err := cf.Name()
	if err != nil || name != "com/example/App" {
		t.Errorf("Name() = %q, %v", name, err)
	}
	if cf.MajorVersion != 52 {
		t.Errorf("MajorVersion = %d, want 52", cf.MajorVersion)
	}
	if len(cf.Fields) != 1 || len(cf.Methods) != 7 {
		t.Errorf("got %d fields and %d methods", len(cf.Fields), len(cf.Methods))
	}
	if m := findMethod(t, cf, "shape()V"); m.Code() != nil {
		t.Error("abstract method should have no code")
	}

	run := findMethod(t, cf, "run()V").Code()
	if got := run.Length(); got != 9 {
		t.Errorf("run code length = %d, want 9", got)
	}
	var offsets []int
	for _, in := range run.Instructions {
		offsets = append(offsets, in.Offset)
	}
	if diff := cmp.Diff([]int{0, 3, 5, 8}, offsets); diff != "" {
		t.Errorf("run offsets (-want +got):\n%s", diff)
	}

	pick := findMethod(t, cf, "pick(I)I").Code()
	ts, ok := pick.Instructions[1].Imm.(classfile.TableSwitchImm)
	if !ok {
		t.Fatalf("instruction 1 is %T, want TableSwitchImm", pick.Instructions[1].Imm)
	}
	// tableswitch at 1 is padded to 4, so it spans 1+2+12+12 bytes.
	if pick.Instructions[1].Size() != 27 {
		t.Errorf("tableswitch size = %d, want 27", pick.Instructions[1].Size())
	}
	if ts.Targets[0] != 28 || ts.Default != pick.Instructions[8].Offset {
		t.Errorf("tableswitch targets = %v default %d", ts.Targets, ts.Default)
	}
	if imm := pick.Instructions[6].Imm.(classfile.LocalImm); !imm.Wide {
		t.Error("wide iload lost its prefix")
	}

	smt := pick.StackMap()
	if smt == nil || len(smt.Frames) != 6 {
		t.Fatalf("expected 6 frames, got %+v", smt)
	}
	if smt.Frames[4].Type != classfile.FrameAppend || smt.Frames[4].Offset != pick.Instructions[13].Offset {
		t.Errorf("append frame = %+v", smt.Frames[4])
	}

	guarded := findMethod(t, cf, "guarded()V").Code()
	want := []classfile.ExceptionHandler{{StartPC: 0, EndPC: 3, HandlerPC: 6, CatchType: guarded.ExceptionTable[0].CatchType}}
	if diff := cmp.Diff(want, guarded.ExceptionTable); diff != "" {
		t.Errorf("exception table (-want +got):\n%s", diff)
	}
}

func TestParseLongConstantSlots(t *testing.T) {
	cf, err := classfile.Parse(sampleBytes(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	wide := findMethod(t, cf, "wide()J").Code()
	idx := wide.Instructions[0].Imm.(classfile.IndexImm).Index
	c, ok := cf.Pool.Get(idx)
	if !ok || c.Tag != classfile.TagLong || c.Bits != 1<<40 {
		t.Fatalf("Get(%d) = %+v, %v", idx, c, ok)
	}
	if _, ok := cf.Pool.Get(idx + 1); ok {
		t.Error("slot after a Long must be unusable")
	}
}

func TestParseErrors(t *testing.T) {
	valid := sampleBytes(t)

	patch := func(pattern []byte, at int, b byte) []byte {
		t.Helper()
		i := bytes.Index(valid, pattern)
		if i < 0 {
			t.Fatalf("pattern % x not found", pattern)
		}
		out := append([]byte(nil), valid...)
		out[i+at] = b
		return out
	}

	tests := []struct {
		name string
		data []byte
		kind clerrors.Kind
	}{
		{"empty", nil, clerrors.KindMalformedUnit},
		{"short header", []byte{0xCA, 0xFE}, clerrors.KindMalformedUnit},
		{"bad magic", append([]byte{0xCA, 0xFE, 0xBA, 0xBF}, valid[4:]...), clerrors.KindMalformedUnit},
		{"version too old", append(append([]byte(nil), valid[:6]...), append([]byte{0x00, 44}, valid[8:]...)...), clerrors.KindMalformedUnit},
		{"version too new", append(append([]byte(nil), valid[:6]...), append([]byte{0x00, 70}, valid[8:]...)...), clerrors.KindMalformedUnit},
		{"trailing bytes", append(append([]byte(nil), valid...), 0x00), clerrors.KindMalformedUnit},
		{"unknown opcode", patch([]byte{0x10, 0xFD, 0xAC}, 2, 0xCB), clerrors.KindMalformedUnit},
		{"switch padding", patch([]byte{0x1A, 0xAA, 0x00, 0x00}, 2, 0x01), clerrors.KindMalformedUnit},
		{"branch into instruction", patch([]byte{0xA7, 0x00, 0x05, 0x4B}, 2, 0x01), clerrors.KindMalformedUnit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classfile.Parse(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := clerrors.KindOf(err); got != tt.kind {
				t.Errorf("kind = %q, want %q (%v)", got, tt.kind, err)
			}
		})
	}
}

func TestParseTruncated(t *testing.T) {
	valid := sampleBytes(t)
	for n := 8; n < len(valid); n++ {
		_, err := classfile.Parse(valid[:n])
		if got := clerrors.KindOf(err); got != clerrors.KindTruncatedInput {
			t.Fatalf("prefix of %d bytes: kind = %q (%v), want truncated_input", n, got, err)
		}
	}
}

func TestParseBadConstantReference(t *testing.T) {
	b := testbed.NewClass("com/example/Bad")
	cf, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		this  uint16
		super uint16
	}{
		{"this_class names a Utf8", b.Utf8("com/example/Bad"), cf.SuperClass},
		{"this_class out of bounds", 999, cf.SuperClass},
		{"super_class names a Utf8", cf.ThisClass, b.Utf8(classfile.ObjectClass)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cf.Clone()
			c.ThisClass, c.SuperClass = tt.this, tt.super
			data, err := c.Encode()
			if err != nil {
				t.Fatal(err)
			}
			_, err = classfile.Parse(data)
			if !errors.Is(err, clerrors.BadConstantReference) {
				t.Errorf("got %v, want bad_constant_reference", err)
			}
		})
	}
}

func TestParseBadOperandTag(t *testing.T) {
	b := testbed.NewClass("com/example/Op")
	str := b.String("x")
	b.AddMethod("m", "()V", testbed.Body{
		MaxStack: 1,
		Code: []classfile.Instruction{
			// getstatic must name a Fieldref
			testbed.Ref(classfile.OpGetStatic, str),
			testbed.Op(classfile.OpReturn),
		},
	})
	data, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	_, err = classfile.Parse(data)
	if got := clerrors.KindOf(err); got != clerrors.KindBadConstantReference {
		t.Errorf("kind = %q (%v), want bad_constant_reference", got, err)
	}
}

func TestClone(t *testing.T) {
	cf, err := classfile.Parse(sampleBytes(t))
	if err != nil {
		t.Fatal(err)
	}
	before, _ := cf.Encode()

	c := cf.Clone()
	if _, err := c.Pool.AddUtf8("only in clone"); err != nil {
		t.Fatal(err)
	}
	code := findMethod(t, c, "pick(I)I").Code()
	code.Instructions[0].Opcode = classfile.OpNop
	code.Instructions[1].MapTargets(func(off int) int { return off + 1 })
	code.StackMap().Frames[0].Offset = 99
	code.ExceptionTable = append(code.ExceptionTable, classfile.ExceptionHandler{})

	after, _ := cf.Encode()
	if !bytes.Equal(before, after) {
		t.Error("mutating a clone changed the original")
	}
	if cf.Pool.Count() == c.Pool.Count() {
		t.Error("clone pool should have grown independently")
	}
}
