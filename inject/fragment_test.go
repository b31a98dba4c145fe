package inject_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/classinject/classfile"
	clerrors "github.com/wippyai/classinject/errors"
	"github.com/wippyai/classinject/inject"
)

const traceSource = `
# print the method being entered
getstatic java/lang/System.out:Ljava/io/PrintStream;
ldc "enter ${class}.${method}${descriptor}"
invokevirtual java/io/PrintStream.println(Ljava/lang/String;)V
`

func TestParseFragmentTrace(t *testing.T) {
	f, err := inject.ParseFragment(traceSource)
	if err != nil {
		t.Fatalf("ParseFragment: %v", err)
	}
	if f.Len() != 3 || f.StackDelta() != 2 || f.MaxLocal() != 0 {
		t.Errorf("len=%d stack=%d locals=%d, want 3, 2, 0", f.Len(), f.StackDelta(), f.MaxLocal())
	}

	pool := classfile.NewConstantPool()
	insns, err := f.Resolve(pool, "demo/App", "run", "()V")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []classfile.Opcode{classfile.OpGetStatic, classfile.OpLdc, classfile.OpInvokeVirtual}
	var got []classfile.Opcode
	for _, in := range insns {
		got = append(got, in.Opcode)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("opcodes (-want +got):\n%s", diff)
	}

	c, ok := pool.Get(insns[1].Imm.(classfile.IndexImm).Index)
	if !ok || c.Tag != classfile.TagString {
		t.Fatalf("ldc operand is %v, want a String", c.Tag)
	}
	s, err := pool.Utf8(c.Ref1)
	if err != nil || s != "enter demo/App.run()V" {
		t.Errorf("string = %q, %v; want %q", s, err, "enter demo/App.run()V")
	}

	ref, err := pool.Member(insns[2].Imm.(classfile.IndexImm).Index)
	if err != nil || ref.String() != "java/io/PrintStream.println(Ljava/lang/String;)V" {
		t.Errorf("invoke target = %v, %v", ref, err)
	}
}

func TestParseFragmentOperands(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantImm  interface{}
		wantOp   classfile.Opcode
		stack    int
		maxLocal int
	}{
		{
			name:     "wide load",
			src:      "aload 300\npop",
			wantOp:   classfile.OpALoad,
			wantImm:  classfile.LocalImm{Index: 300, Wide: true},
			stack:    1,
			maxLocal: 301,
		},
		{
			name:     "narrow store",
			src:      "iconst_0\nistore 4",
			wantOp:   classfile.OpIConst0,
			stack:    1,
			maxLocal: 5,
		},
		{
			name:     "wide iinc",
			src:      "iinc 2 1000",
			wantOp:   classfile.OpIInc,
			wantImm:  classfile.IincImm{Index: 2, Delta: 1000, Wide: true},
			maxLocal: 3,
		},
		{
			name:    "sipush",
			src:     "sipush -300\npop",
			wantOp:  classfile.OpSIPush,
			wantImm: classfile.IntImm{Value: -300},
			stack:   1,
		},
		{
			name:    "newarray",
			src:     "iconst_3\nnewarray long\npop",
			wantOp:  classfile.OpIConst3,
			stack:   1,
		},
		{
			name:   "long constant",
			src:    "ldc2_w 42L\npop2",
			wantOp: classfile.OpLdc2W,
			stack:  2,
		},
		{
			name:   "comment after string",
			src:    `ldc "a#b//c" # trailing` + "\npop",
			wantOp: classfile.OpLdc,
			stack:  1,
		},
		{
			name:   "interface call",
			src:    "aconst_null\nldc \"k\"\ninvokeinterface java/util/Map.get(Ljava/lang/Object;)Ljava/lang/Object;\npop",
			wantOp: classfile.OpAConstNull,
			stack:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := inject.ParseFragment(tt.src)
			if err != nil {
				t.Fatalf("ParseFragment: %v", err)
			}
			if f.StackDelta() != tt.stack || f.MaxLocal() != tt.maxLocal {
				t.Errorf("stack=%d locals=%d, want %d and %d", f.StackDelta(), f.MaxLocal(), tt.stack, tt.maxLocal)
			}
			insns, err := f.Resolve(classfile.NewConstantPool(), "demo/App", "run", "()V")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if insns[0].Opcode != tt.wantOp {
				t.Errorf("first opcode = %s, want %s", insns[0].Opcode, tt.wantOp)
			}
			if tt.wantImm != nil && insns[0].Imm != tt.wantImm {
				t.Errorf("immediate = %#v, want %#v", insns[0].Imm, tt.wantImm)
			}
		})
	}
}

func TestParseFragmentInvokeInterfaceCount(t *testing.T) {
	f := inject.MustParseFragment("aconst_null\nlconst_0\ninvokeinterface a/Sink.put(J)V")
	insns, err := f.Resolve(classfile.NewConstantPool(), "demo/App", "run", "()V")
	if err != nil {
		t.Fatal(err)
	}
	imm := insns[2].Imm.(classfile.InvokeInterfaceImm)
	if imm.Count != 3 {
		t.Errorf("count = %d, want 3", imm.Count)
	}
}

func TestParseFragmentLdcWidensPastByteIndex(t *testing.T) {
	pool := classfile.NewConstantPool()
	for i := int32(0); i < 300; i++ {
		if _, err := pool.AddInteger(i + 1000); err != nil {
			t.Fatal(err)
		}
	}
	f := inject.MustParseFragment("ldc \"late\"\npop")
	insns, err := f.Resolve(pool, "demo/App", "run", "()V")
	if err != nil {
		t.Fatal(err)
	}
	if insns[0].Opcode != classfile.OpLdcW {
		t.Errorf("opcode = %s, want ldc_w", insns[0].Opcode)
	}
}

func TestParseFragmentErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line string
	}{
		{"empty", "  # nothing\n", "1"},
		{"unknown mnemonic", "nop\nfrobnicate", "2"},
		{"branch", "goto 3", "1"},
		{"switch", "iconst_0\ntableswitch", "2"},
		{"return", "return", "1"},
		{"throw", "aconst_null\nathrow", "2"},
		{"monitor", "aconst_null\nmonitorenter", "2"},
		{"invokedynamic", "invokedynamic run", "1"},
		{"leaves value", "nop\niconst_1", "2"},
		{"pops caller value", "pop", "1"},
		{"bipush range", "bipush 300\npop", "1"},
		{"missing operand", "aload\npop", "1"},
		{"unexpected operand", "nop 1", "1"},
		{"bad method descriptor", "invokestatic a/B.c(I", "1"},
		{"bad field", "getstatic a/B.c:\npop", "1"},
		{"two field types", "getstatic a/B.c:II\npop", "1"},
		{"unknown placeholder", "ldc \"${user}\"\npop", "1"},
		{"placeholder in descriptor", "getstatic ${class}.x:L${class};\npop", "1"},
		{"array type", "iconst_1\nnewarray string\npop", "2"},
		{"interface virtual", "invokevirtual interface a/B.c()V", "1"},
		{"ldc2_w string", "ldc2_w \"x\"\npop2", "1"},
		{"ldc int overflow", "nop\nldc 3000000000\npop", "2"},
		{"ldc negative int overflow", "ldc -2147483649\npop", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inject.ParseFragment(tt.src)
			if !errors.Is(err, clerrors.InvalidFragment) {
				t.Fatalf("err = %v, want invalid_fragment", err)
			}
			var e *clerrors.Error
			if !errors.As(err, &e) || e.Phase != clerrors.PhasePlan {
				t.Fatalf("err = %v, want plan phase", err)
			}
			if diff := cmp.Diff([]string{"fragment", tt.line}, e.Path); diff != "" {
				t.Errorf("path (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFragmentLdcIntRange(t *testing.T) {
	f := inject.MustParseFragment("ldc 2147483647\npop")
	pool := classfile.NewConstantPool()
	insns, err := f.Resolve(pool, "demo/App", "run", "()V")
	if err != nil {
		t.Fatal(err)
	}
	c, ok := pool.Get(insns[0].Imm.(classfile.IndexImm).Index)
	if !ok || c.Tag != classfile.TagInteger {
		t.Errorf("ldc operand is %v, want an Integer", c.Tag)
	}
}

func TestFragmentMinStore(t *testing.T) {
	tests := []struct {
		src  string
		want int
	}{
		{traceSource, -1},
		{"aload_0\npop", -1},
		{"iconst_0\nistore 4", 4},
		{"iconst_0\nistore_2\nlconst_0\nlstore 7", 2},
		{"iinc 3 1", 3},
		{"aconst_null\nastore_0", 0},
	}
	for _, tt := range tests {
		if got := inject.MustParseFragment(tt.src).MinStore(); got != tt.want {
			t.Errorf("MinStore(%q) = %d, want %d", tt.src, got, tt.want)
		}
	}
}
