package classfile_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wippyai/classinject/classfile"
	"github.com/wippyai/classinject/testbed"
)

func TestStackMapExpand(t *testing.T) {
	integer := classfile.VerificationType{Tag: classfile.VTInteger}
	long := classfile.VerificationType{Tag: classfile.VTLong}
	object := classfile.VerificationType{Tag: classfile.VTObject, Index: 3}

	smt := &classfile.StackMapTable{Frames: []classfile.StackMapFrame{
		{Type: classfile.FrameAppend, Offset: 4, Locals: []classfile.VerificationType{integer, long}},
		{Type: classfile.FrameSameLocals1, Offset: 9, Stack: []classfile.VerificationType{object}},
		{Type: classfile.FrameChop, Offset: 12, Chop: 1},
		{Type: classfile.FrameFull, Offset: 20, Locals: []classfile.VerificationType{object}, Stack: []classfile.VerificationType{integer}},
		{Type: classfile.FrameSame, Offset: 25},
	}}

	states, err := smt.Expand([]classfile.VerificationType{object})
	if err != nil {
		t.Fatal(err)
	}
	want := []classfile.FrameState{
		{Offset: 4, Locals: []classfile.VerificationType{object, integer, long}},
		{Offset: 9, Locals: []classfile.VerificationType{object, integer, long}, Stack: []classfile.VerificationType{object}},
		{Offset: 12, Locals: []classfile.VerificationType{object, integer}},
		{Offset: 20, Locals: []classfile.VerificationType{object}, Stack: []classfile.VerificationType{integer}},
		{Offset: 25, Locals: []classfile.VerificationType{object}},
	}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Errorf("Expand (-want +got):\n%s", diff)
	}

	bad := &classfile.StackMapTable{Frames: []classfile.StackMapFrame{{Type: classfile.FrameChop, Offset: 1, Chop: 2}}}
	if _, err := bad.Expand(nil); err == nil {
		t.Error("chopping more locals than exist should fail")
	}
}

func TestStackMapMapOffsetsPromotes(t *testing.T) {
	smt := &classfile.StackMapTable{Frames: []classfile.StackMapFrame{
		{Type: classfile.FrameSame, Offset: 10},
		{Type: classfile.FrameSameLocals1, Offset: 20, Stack: []classfile.VerificationType{{Tag: classfile.VTUninitialized, Offset: 15}}},
	}}
	smt.MapOffsets(
		func(off int) int { return off * 10 },
		func(off int) int { return off + 1 },
	)

	if smt.Frames[0].Offset != 100 || smt.Frames[0].Type != classfile.FrameSameExtended {
		t.Errorf("frame 0 = %+v, want same_frame_extended at 100", smt.Frames[0])
	}
	if smt.Frames[1].Offset != 200 || smt.Frames[1].Type != classfile.FrameSameLocals1Extended {
		t.Errorf("frame 1 = %+v, want same_locals_1_stack_item_extended at 200", smt.Frames[1])
	}
	if got := smt.Frames[1].Stack[0].Offset; got != 16 {
		t.Errorf("uninitialized offset = %d, want 16", got)
	}
}

func TestStackMapPromotedFramesRoundTrip(t *testing.T) {
	b := testbed.NewClass("com/example/Frames")
	code := make([]classfile.Instruction, 0, 80)
	code = append(code, testbed.Jump(classfile.OpGoto, 71))
	for i := 0; i < 70; i++ {
		code = append(code, testbed.Op(classfile.OpNop))
	}
	code = append(code, testbed.Op(classfile.OpReturn))
	b.AddMethod("m", "()V", testbed.Body{
		Access: classfile.AccPublic | classfile.AccStatic,
		Code:   code,
		// 73 bytes after the start: too far for a compact same frame.
		Frames: []classfile.StackMapFrame{{Type: classfile.FrameSame, Offset: 71}},
	})
	data, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	cf, err := classfile.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	f := cf.Methods[0].Code().StackMap().Frames[0]
	if f.Type != classfile.FrameSameExtended || f.Offset != 73 {
		t.Errorf("frame = %+v, want same_frame_extended at 73", f)
	}
}
