package classfile

import (
	"fmt"

	"github.com/wippyai/classinject/classfile/internal/binary"
	clerrors "github.com/wippyai/classinject/errors"
)

// VerificationTag identifies a verification_type_info variant.
type VerificationTag uint8

// Verification type tags (JVMS 4.7.4).
const (
	VTTop               VerificationTag = 0
	VTInteger           VerificationTag = 1
	VTFloat             VerificationTag = 2
	VTDouble            VerificationTag = 3
	VTLong              VerificationTag = 4
	VTNull              VerificationTag = 5
	VTUninitializedThis VerificationTag = 6
	VTObject            VerificationTag = 7
	VTUninitialized     VerificationTag = 8
)

// VerificationType is one verification_type_info. Index is the Class entry of
// an Object type; Offset is the code offset of the new instruction that
// created an Uninitialized value.
type VerificationType struct {
	Offset int
	Index  uint16
	Tag    VerificationTag
}

func (v VerificationType) String() string {
	switch v.Tag {
	case VTTop:
		return "top"
	case VTInteger:
		return "int"
	case VTFloat:
		return "float"
	case VTDouble:
		return "double"
	case VTLong:
		return "long"
	case VTNull:
		return "null"
	case VTUninitializedThis:
		return "uninitializedThis"
	case VTObject:
		return fmt.Sprintf("object(#%d)", v.Index)
	case VTUninitialized:
		return fmt.Sprintf("uninitialized(%d)", v.Offset)
	}
	return fmt.Sprintf("invalid(%d)", v.Tag)
}

// FrameType is the encoding family of a stack map frame.
type FrameType uint8

const (
	FrameSame                FrameType = iota // 0-63
	FrameSameLocals1                          // 64-127
	FrameSameLocals1Extended                  // 247
	FrameChop                                 // 248-250
	FrameSameExtended                         // 251
	FrameAppend                               // 252-254
	FrameFull                                 // 255
)

// StackMapFrame is one entry of a StackMapTable with its offset resolved to
// an absolute code offset. Locals holds the appended locals of an append
// frame or all locals of a full frame; Chop is the number of locals removed
// by a chop frame.
type StackMapFrame struct {
	Locals []VerificationType
	Stack  []VerificationType
	Offset int
	Chop   int
	Type   FrameType
}

// StackMapTable is a decoded StackMapTable attribute.
type StackMapTable struct {
	Frames []StackMapFrame
}

// FrameState is the full verifier state at a frame offset.
type FrameState struct {
	Locals []VerificationType
	Stack  []VerificationType
	Offset int
}

// Expand resolves every frame against its predecessor starting from the
// method's initial locals.
func (t *StackMapTable) Expand(initial []VerificationType) ([]FrameState, error) {
	locals := append([]VerificationType(nil), initial...)
	states := make([]FrameState, 0, len(t.Frames))
	for i, f := range t.Frames {
		switch f.Type {
		case FrameSame, FrameSameExtended, FrameSameLocals1, FrameSameLocals1Extended:
		case FrameChop:
			if f.Chop > len(locals) {
				return nil, fmt.Errorf("frame %d at %d chops %d of %d locals", i, f.Offset, f.Chop, len(locals))
			}
			locals = locals[:len(locals)-f.Chop]
		case FrameAppend:
			locals = append(locals[:len(locals):len(locals)], f.Locals...)
		case FrameFull:
			locals = append([]VerificationType(nil), f.Locals...)
		}
		states = append(states, FrameState{
			Offset: f.Offset,
			Locals: append([]VerificationType(nil), locals...),
			Stack:  append([]VerificationType(nil), f.Stack...),
		})
	}
	return states, nil
}

// MapOffsets moves every frame and every Uninitialized type through the given
// offset maps and promotes compact frame kinds whose delta no longer fits.
func (t *StackMapTable) MapOffsets(frame, uninit func(int) int) {
	mapTypes := func(vs []VerificationType) []VerificationType {
		if vs == nil {
			return nil
		}
		out := make([]VerificationType, len(vs))
		for i, v := range vs {
			if v.Tag == VTUninitialized {
				v.Offset = uninit(v.Offset)
			}
			out[i] = v
		}
		return out
	}
	prev := -1
	for i := range t.Frames {
		f := &t.Frames[i]
		f.Offset = frame(f.Offset)
		f.Locals = mapTypes(f.Locals)
		f.Stack = mapTypes(f.Stack)
		delta := f.Offset - prev - 1
		if delta > 63 {
			switch f.Type {
			case FrameSame:
				f.Type = FrameSameExtended
			case FrameSameLocals1:
				f.Type = FrameSameLocals1Extended
			}
		}
		prev = f.Offset
	}
}

func decodeVerificationType(r *binary.Reader, pool *ConstantPool, path []string) (VerificationType, error) {
	b, err := r.ReadU1()
	if err != nil {
		return VerificationType{}, err
	}
	v := VerificationType{Tag: VerificationTag(b)}
	switch v.Tag {
	case VTTop, VTInteger, VTFloat, VTDouble, VTLong, VTNull, VTUninitializedThis:
	case VTObject:
		if v.Index, err = r.ReadU2(); err != nil {
			return v, err
		}
		if !pool.Is(v.Index, TagClass) {
			return v, clerrors.BadReference(path, int(v.Index), pool.Count(), TagClass.String())
		}
	case VTUninitialized:
		off, err := r.ReadU2()
		if err != nil {
			return v, err
		}
		v.Offset = int(off)
	default:
		return v, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Path(path...).Detail("unknown verification type tag %d", b).Build()
	}
	return v, nil
}

func decodeVerificationTypes(r *binary.Reader, n int, pool *ConstantPool, path []string) ([]VerificationType, error) {
	out := make([]VerificationType, 0, n)
	for i := 0; i < n; i++ {
		v, err := decodeVerificationType(r, pool, path)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// decodeStackMapTable decodes the attribute body. Frame offsets are checked
// against instruction boundaries by the caller once code is known.
func decodeStackMapTable(data []byte, pool *ConstantPool, path []string) (*StackMapTable, error) {
	r := binary.NewReader(data)
	n, err := r.ReadU2()
	if err != nil {
		return nil, err
	}
	t := &StackMapTable{Frames: make([]StackMapFrame, 0, n)}
	prev := -1
	for i := 0; i < int(n); i++ {
		kind, err := r.ReadU1()
		if err != nil {
			return nil, err
		}
		var f StackMapFrame
		var delta int
		switch {
		case kind <= 63:
			f.Type = FrameSame
			delta = int(kind)
		case kind <= 127:
			f.Type = FrameSameLocals1
			delta = int(kind) - 64
			if f.Stack, err = decodeVerificationTypes(r, 1, pool, path); err != nil {
				return nil, err
			}
		case kind < 247:
			return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
				Path(path...).Value(kind).Detail("reserved stack map frame type %d", kind).Build()
		default:
			d, err := r.ReadU2()
			if err != nil {
				return nil, err
			}
			delta = int(d)
			switch {
			case kind == 247:
				f.Type = FrameSameLocals1Extended
				if f.Stack, err = decodeVerificationTypes(r, 1, pool, path); err != nil {
					return nil, err
				}
			case kind <= 250:
				f.Type = FrameChop
				f.Chop = 251 - int(kind)
			case kind == 251:
				f.Type = FrameSameExtended
			case kind <= 254:
				f.Type = FrameAppend
				if f.Locals, err = decodeVerificationTypes(r, int(kind)-251, pool, path); err != nil {
					return nil, err
				}
			default:
				f.Type = FrameFull
				nl, err := r.ReadU2()
				if err != nil {
					return nil, err
				}
				if f.Locals, err = decodeVerificationTypes(r, int(nl), pool, path); err != nil {
					return nil, err
				}
				ns, err := r.ReadU2()
				if err != nil {
					return nil, err
				}
				if f.Stack, err = decodeVerificationTypes(r, int(ns), pool, path); err != nil {
					return nil, err
				}
			}
		}
		f.Offset = prev + 1 + delta
		prev = f.Offset
		t.Frames = append(t.Frames, f)
	}
	if r.Remaining() != 0 {
		return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Path(path...).Detail("%d trailing bytes in StackMapTable", r.Remaining()).Build()
	}
	return t, nil
}

func encodeVerificationTypes(w *binary.Writer, vs []VerificationType) {
	for _, v := range vs {
		w.U1(byte(v.Tag))
		switch v.Tag {
		case VTObject:
			w.U2(v.Index)
		case VTUninitialized:
			w.U2(uint16(v.Offset))
		}
	}
}

func encodeStackMapTable(t *StackMapTable, path []string) ([]byte, error) {
	w := binary.NewWriter()
	if len(t.Frames) > 0xFFFF {
		return nil, clerrors.Overflow(clerrors.PhaseWrite, path, len(t.Frames), "number_of_entries")
	}
	w.U2(uint16(len(t.Frames)))
	prev := -1
	for i := range t.Frames {
		f := &t.Frames[i]
		delta := f.Offset - prev - 1
		if delta < 0 || delta > 0xFFFF {
			return nil, clerrors.New(clerrors.PhaseWrite, clerrors.KindMalformedUnit).
				Path(path...).Offset(f.Offset).Detail("frame %d is out of order", i).Build()
		}
		prev = f.Offset
		switch f.Type {
		case FrameSame:
			if delta > 63 {
				w.U1(251)
				w.U2(uint16(delta))
			} else {
				w.U1(byte(delta))
			}
		case FrameSameLocals1:
			if delta > 63 {
				w.U1(247)
				w.U2(uint16(delta))
			} else {
				w.U1(byte(64 + delta))
			}
			encodeVerificationTypes(w, f.Stack)
		case FrameSameLocals1Extended:
			w.U1(247)
			w.U2(uint16(delta))
			encodeVerificationTypes(w, f.Stack)
		case FrameChop:
			if f.Chop < 1 || f.Chop > 3 {
				return nil, clerrors.Overflow(clerrors.PhaseWrite, path, f.Chop, "chop frame")
			}
			w.U1(byte(251 - f.Chop))
			w.U2(uint16(delta))
		case FrameSameExtended:
			w.U1(251)
			w.U2(uint16(delta))
		case FrameAppend:
			if len(f.Locals) < 1 || len(f.Locals) > 3 {
				return nil, clerrors.Overflow(clerrors.PhaseWrite, path, len(f.Locals), "append frame")
			}
			w.U1(byte(251 + len(f.Locals)))
			w.U2(uint16(delta))
			encodeVerificationTypes(w, f.Locals)
		case FrameFull:
			w.U1(255)
			w.U2(uint16(delta))
			w.U2(uint16(len(f.Locals)))
			encodeVerificationTypes(w, f.Locals)
			w.U2(uint16(len(f.Stack)))
			encodeVerificationTypes(w, f.Stack)
		}
	}
	return w.Bytes(), nil
}
