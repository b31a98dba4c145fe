package inject_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/classinject/classfile"
	clerrors "github.com/wippyai/classinject/errors"
	"github.com/wippyai/classinject/inject"
	"github.com/wippyai/classinject/testbed"
)

var nopFragment = inject.MustParseFragment("nop")

// serviceClass has a method with two exits and three calls, two of them to
// the same target, plus an abstract-looking native method.
func serviceClass(t *testing.T) *testbed.ClassBuilder {
	t.Helper()
	b := testbed.NewClass("demo/Service")
	flush := b.Method("demo/Store", "flush", "()V")
	open := b.Method("demo/Store", "open", "()V")
	b.AddMethod("work", "(I)V", testbed.Body{
		Access:    classfile.AccPublic | classfile.AccStatic,
		MaxStack:  1,
		MaxLocals: 1,
		Code: []classfile.Instruction{
			testbed.Ref(classfile.OpInvokeStatic, open),
			testbed.Op(classfile.OpILoad0),
			testbed.Jump(classfile.OpIfEQ, 5),
			testbed.Ref(classfile.OpInvokeStatic, flush),
			testbed.Op(classfile.OpReturn),
			testbed.Ref(classfile.OpInvokeStatic, flush),
			testbed.Op(classfile.OpReturn),
		},
		Frames: []classfile.StackMapFrame{{Type: classfile.FrameSame, Offset: 5}},
	})
	b.Abstract("shape", "()V")
	return b
}

func serviceFile(t *testing.T) *classfile.ClassFile {
	t.Helper()
	cf, err := serviceClass(t).Build()
	if err != nil {
		t.Fatal(err)
	}
	return cf
}

func offsets(p *inject.Plan) []int {
	var out []int
	for _, ins := range p.Insertions {
		out = append(out, ins.Offset)
	}
	return out
}

func TestNewPlanSites(t *testing.T) {
	tests := []struct {
		name   string
		policy inject.Policy
		want   []int
	}{
		{
			name:   "entry",
			policy: inject.Policy{Method: "work(I)V", Point: inject.PointEntry, Fragment: nopFragment},
			want:   []int{0},
		},
		{
			name:   "exit",
			policy: inject.Policy{Method: "work(I)V", Point: inject.PointExit, Fragment: nopFragment},
			want:   []int{10, 14},
		},
		{
			name: "before call",
			policy: inject.Policy{Method: "work(I)V", Point: inject.PointBeforeCall,
				Call: "demo/Store.flush()V", Fragment: nopFragment},
			want: []int{7, 11},
		},
		{
			name:   "offset",
			policy: inject.Policy{Method: "work(I)V", Point: inject.PointOffset, Offset: 3, Fragment: nopFragment},
			want:   []int{3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := inject.NewPlan(serviceFile(t), tt.policy)
			if err != nil {
				t.Fatalf("NewPlan: %v", err)
			}
			if diff := cmp.Diff(tt.want, offsets(plan)); diff != "" {
				t.Errorf("offsets (-want +got):\n%s", diff)
			}
			if plan.Matched != 1 || plan.Class != "demo/Service" {
				t.Errorf("matched=%d class=%q", plan.Matched, plan.Class)
			}
			for _, ins := range plan.Insertions {
				if ins.Method != "work(I)V" || ins.Kind != tt.policy.Point {
					t.Errorf("insertion = %+v", ins)
				}
			}
		})
	}
}

func TestNewPlanNoMatch(t *testing.T) {
	tests := []struct {
		name   string
		policy inject.Policy
	}{
		{"other method", inject.Policy{Method: "missing()V", Point: inject.PointEntry, Fragment: nopFragment}},
		{"other class", inject.Policy{Class: "demo/Other", Method: "work(I)V", Point: inject.PointEntry, Fragment: nopFragment}},
		{"descriptor differs", inject.Policy{Method: "work(J)V", Point: inject.PointEntry, Fragment: nopFragment}},
		{"abstract method", inject.Policy{Method: "shape()V", Point: inject.PointEntry, Fragment: nopFragment}},
		{"call not made", inject.Policy{Method: "work(I)V", Point: inject.PointBeforeCall, Call: "demo/Store.close()V", Fragment: nopFragment}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := inject.NewPlan(serviceFile(t), tt.policy)
			if err != nil {
				t.Fatalf("NewPlan: %v", err)
			}
			if !plan.Empty() {
				t.Errorf("plan has %d insertions, want none", len(plan.Insertions))
			}
		})
	}
}

func TestNewPlanSkipsDuplicateWithinRun(t *testing.T) {
	p := inject.Policy{Method: "work(I)V", Point: inject.PointExit, Fragment: nopFragment}
	plan, err := inject.NewPlan(serviceFile(t), p, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Insertions) != 2 || plan.Skipped != 2 {
		t.Errorf("insertions=%d skipped=%d, want 2 and 2", len(plan.Insertions), plan.Skipped)
	}
}

func TestNewPlanSkipsInjectedSites(t *testing.T) {
	policies := []inject.Policy{
		{Method: "work(I)V", Point: inject.PointEntry, Fragment: nopFragment},
		{Method: "work(I)V", Point: inject.PointExit, Fragment: inject.MustParseFragment("iconst_2\npop")},
		{Method: "work(I)V", Point: inject.PointBeforeCall, Call: "demo/Store.flush()V",
			Fragment: inject.MustParseFragment(`ldc "${method}"` + "\npop")},
	}
	once, res, err := inject.Transform(serviceFile(t), policies...)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Inserted != 5 {
		t.Fatalf("inserted = %d, want 5", res.Inserted)
	}

	plan, err := inject.NewPlan(once.Clone(), policies...)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if !plan.Empty() || plan.Skipped != 5 {
		t.Errorf("second plan: %d insertions, %d skipped; want 0 and 5", len(plan.Insertions), plan.Skipped)
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		policy inject.Policy
	}{
		{"no descriptor", inject.Policy{Method: "run", Point: inject.PointEntry, Fragment: nopFragment}},
		{"no name", inject.Policy{Method: "()V", Point: inject.PointEntry, Fragment: nopFragment}},
		{"no fragment", inject.Policy{Method: "run()V", Point: inject.PointEntry}},
		{"unknown point", inject.Policy{Method: "run()V", Point: "middle", Fragment: nopFragment}},
		{"no call", inject.Policy{Method: "run()V", Point: inject.PointBeforeCall, Fragment: nopFragment}},
		{"call without owner", inject.Policy{Method: "run()V", Point: inject.PointBeforeCall, Call: "flush()V", Fragment: nopFragment}},
		{"negative offset", inject.Policy{Method: "run()V", Point: inject.PointOffset, Offset: -2, Fragment: nopFragment}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if clerrors.KindOf(err) != clerrors.KindInvalidInput {
				t.Fatalf("Validate = %v, want invalid_input", err)
			}
			if _, err := inject.NewPlan(serviceFile(t), tt.policy); err == nil {
				t.Error("NewPlan accepted an invalid policy")
			}
		})
	}
}

func TestParsePoint(t *testing.T) {
	tests := []struct {
		in   string
		want inject.Point
	}{
		{"entry", inject.PointEntry},
		{"method-entry", inject.PointEntry},
		{" Exit ", inject.PointExit},
		{"method-exit", inject.PointExit},
		{"before-call", inject.PointBeforeCall},
		{"offset", inject.PointOffset},
	}
	for _, tt := range tests {
		got, err := inject.ParsePoint(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParsePoint(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := inject.ParsePoint("around"); !errors.Is(err, &clerrors.Error{Phase: clerrors.PhasePlan, Kind: clerrors.KindInvalidInput}) {
		t.Errorf("ParsePoint(around) = %v, want plan invalid_input", err)
	}
}

func TestNewPlanSkipsWholeRun(t *testing.T) {
	policies := []inject.Policy{
		{Method: "work(I)V", Point: inject.PointEntry, Fragment: inject.MustParseFragment("iconst_1\npop")},
		{Method: "work(I)V", Point: inject.PointEntry, Fragment: inject.MustParseFragment("iconst_2\npop")},
		{Method: "work(I)V", Point: inject.PointExit, Fragment: inject.MustParseFragment("iconst_3\npop")},
		{Method: "work(I)V", Point: inject.PointExit, Fragment: inject.MustParseFragment("iconst_4\npop")},
	}
	once, res, err := inject.Transform(serviceFile(t), policies...)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Inserted != 6 {
		t.Fatalf("inserted = %d, want 6", res.Inserted)
	}

	plan, err := inject.NewPlan(once.Clone(), policies...)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if !plan.Empty() || plan.Skipped != 6 {
		t.Errorf("second plan: %d insertions, %d skipped; want 0 and 6", len(plan.Insertions), plan.Skipped)
	}
}

func TestNewPlanStoreIntoMethodLocal(t *testing.T) {
	b := testbed.NewClass("demo/Check")
	b.AddMethod("f", "(Ljava/lang/String;)V", testbed.Body{
		Access:    classfile.AccPublic | classfile.AccStatic,
		MaxStack:  1,
		MaxLocals: 1,
		Code: []classfile.Instruction{
			testbed.Op(classfile.OpALoad0),
			testbed.Jump(classfile.OpIfNull, 3),
			testbed.Op(classfile.OpNop),
			testbed.Op(classfile.OpReturn),
		},
		Frames: []classfile.StackMapFrame{{Type: classfile.FrameSame, Offset: 3}},
	})
	cf, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	clobber := inject.Policy{Method: "f(Ljava/lang/String;)V", Point: inject.PointEntry,
		Fragment: inject.MustParseFragment("iconst_0\nistore 0")}
	_, err = inject.NewPlan(cf.Clone(), clobber)
	if !errors.Is(err, clerrors.InvalidFragment) {
		t.Fatalf("err = %v, want invalid_fragment", err)
	}
	var e *clerrors.Error
	if !errors.As(err, &e) || e.Phase != clerrors.PhasePlan {
		t.Fatalf("err = %v, want plan phase", err)
	}

	fresh := clobber
	fresh.Fragment = inject.MustParseFragment("iconst_0\nistore 1")
	plan, err := inject.NewPlan(cf.Clone(), fresh)
	if err != nil {
		t.Fatalf("NewPlan with a fresh slot: %v", err)
	}
	if len(plan.Insertions) != 1 || plan.Insertions[0].MaxLocal != 2 {
		t.Errorf("plan = %+v, want one insertion reaching local 1", plan.Insertions)
	}

	reader := clobber
	reader.Fragment = inject.MustParseFragment("aload_0\npop")
	if _, err := inject.NewPlan(cf.Clone(), reader); err != nil {
		t.Errorf("NewPlan with a load of an argument: %v", err)
	}
}
