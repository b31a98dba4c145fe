package classfile

// Clone returns a deep copy of the class file. Mutating the copy, including
// interning into its pool, never affects the receiver.
func (cf *ClassFile) Clone() *ClassFile {
	out := *cf
	out.Pool = cf.Pool.Clone()
	out.Interfaces = append([]uint16(nil), cf.Interfaces...)
	out.Fields = cloneMembers(cf.Fields)
	out.Methods = cloneMembers(cf.Methods)
	out.Attributes = cloneAttributes(cf.Attributes)
	return &out
}

func cloneMembers(ms []Member) []Member {
	if ms == nil {
		return nil
	}
	out := make([]Member, len(ms))
	for i, m := range ms {
		m.Attributes = cloneAttributes(m.Attributes)
		out[i] = m
	}
	return out
}

func cloneAttributes(attrs []Attribute) []Attribute {
	if attrs == nil {
		return nil
	}
	out := make([]Attribute, len(attrs))
	for i, a := range attrs {
		if a.Data != nil {
			a.Data = append([]byte(nil), a.Data...)
		}
		if a.Code != nil {
			a.Code = a.Code.Clone()
		}
		if a.StackMap != nil {
			frames := make([]StackMapFrame, len(a.StackMap.Frames))
			for j, f := range a.StackMap.Frames {
				f.Locals = cloneTypes(f.Locals)
				f.Stack = cloneTypes(f.Stack)
				frames[j] = f
			}
			a.StackMap = &StackMapTable{Frames: frames}
		}
		if a.Lines != nil {
			a.Lines = &LineNumberTable{Entries: append([]LineNumber(nil), a.Lines.Entries...)}
		}
		if a.Locals != nil {
			a.Locals = &LocalVariableTable{Entries: append([]LocalVariable(nil), a.Locals.Entries...)}
		}
		out[i] = a
	}
	return out
}

func cloneTypes(vs []VerificationType) []VerificationType {
	if vs == nil {
		return nil
	}
	return append([]VerificationType(nil), vs...)
}

// Clone returns a deep copy of the Code attribute.
func (c *Code) Clone() *Code {
	out := *c
	out.Instructions = make([]Instruction, len(c.Instructions))
	for i, in := range c.Instructions {
		switch imm := in.Imm.(type) {
		case TableSwitchImm:
			imm.Targets = append([]int(nil), imm.Targets...)
			in.Imm = imm
		case LookupSwitchImm:
			imm.Keys = append([]int32(nil), imm.Keys...)
			imm.Targets = append([]int(nil), imm.Targets...)
			in.Imm = imm
		}
		out.Instructions[i] = in
	}
	out.ExceptionTable = append([]ExceptionHandler(nil), c.ExceptionTable...)
	out.Attributes = cloneAttributes(c.Attributes)
	return &out
}
