package testbed

import (
	"fmt"

	"github.com/wippyai/classinject/classfile"
)

// ClassBuilder assembles synthetic class files for tests. Methods are given
// as instruction lists whose branch targets, switch targets, exception ranges
// and stack map frame offsets are instruction indices; the builder lays the
// code out and converts them to byte offsets.
type ClassBuilder struct {
	cf  *classfile.ClassFile
	err error
}

// NewClass starts a public class extending java/lang/Object, version 52.
func NewClass(name string) *ClassBuilder {
	return NewClassVersion(name, 52)
}

// NewClassVersion starts a class with an explicit major version.
func NewClassVersion(name string, major uint16) *ClassBuilder {
	b := &ClassBuilder{cf: &classfile.ClassFile{
		Pool:         classfile.NewConstantPool(),
		MajorVersion: major,
		AccessFlags:  classfile.AccPublic | classfile.AccSuper,
	}}
	b.cf.ThisClass = b.Class(name)
	b.cf.SuperClass = b.Class(classfile.ObjectClass)
	return b
}

func (b *ClassBuilder) keep(idx uint16, err error) uint16 {
	if err != nil && b.err == nil {
		b.err = err
	}
	return idx
}

// Pool returns the class's constant pool.
func (b *ClassBuilder) Pool() *classfile.ConstantPool { return b.cf.Pool }

// Utf8 interns a string.
func (b *ClassBuilder) Utf8(s string) uint16 { return b.keep(b.cf.Pool.AddUtf8(s)) }

// Class interns a Class entry.
func (b *ClassBuilder) Class(name string) uint16 { return b.keep(b.cf.Pool.AddClass(name)) }

// String interns a String literal.
func (b *ClassBuilder) String(s string) uint16 { return b.keep(b.cf.Pool.AddString(s)) }

// Integer interns an Integer literal.
func (b *ClassBuilder) Integer(v int32) uint16 { return b.keep(b.cf.Pool.AddInteger(v)) }

// Long interns a Long literal.
func (b *ClassBuilder) Long(v int64) uint16 { return b.keep(b.cf.Pool.AddLong(v)) }

// Field interns a Fieldref.
func (b *ClassBuilder) Field(owner, name, desc string) uint16 {
	return b.keep(b.cf.Pool.AddMember(classfile.TagFieldref, owner, name, desc))
}

// Method interns a Methodref.
func (b *ClassBuilder) Method(owner, name, desc string) uint16 {
	return b.keep(b.cf.Pool.AddMember(classfile.TagMethodref, owner, name, desc))
}

// Interface interns an InterfaceMethodref.
func (b *ClassBuilder) Interface(owner, name, desc string) uint16 {
	return b.keep(b.cf.Pool.AddMember(classfile.TagInterfaceMethodref, owner, name, desc))
}

// AddField declares a field.
func (b *ClassBuilder) AddField(access classfile.AccessFlags, name, desc string) {
	b.cf.Fields = append(b.cf.Fields, classfile.Member{
		AccessFlags:     access,
		NameIndex:       b.Utf8(name),
		DescriptorIndex: b.Utf8(desc),
	})
}

// Abstract declares a method without code.
func (b *ClassBuilder) Abstract(name, desc string) {
	b.cf.AccessFlags |= classfile.AccAbstract
	b.cf.Methods = append(b.cf.Methods, classfile.Member{
		AccessFlags:     classfile.AccPublic | classfile.AccAbstract,
		NameIndex:       b.Utf8(name),
		DescriptorIndex: b.Utf8(desc),
	})
}

// Body describes a method body. All positions are instruction indices.
type Body struct {
	Code      []classfile.Instruction
	Handlers  []classfile.ExceptionHandler
	Frames    []classfile.StackMapFrame
	Lines     []classfile.LineNumber
	Locals    []classfile.LocalVariable
	Access    classfile.AccessFlags
	MaxStack  uint16
	MaxLocals uint16
}

// AddMethod declares a method with a body and returns its decoded Code.
func (b *ClassBuilder) AddMethod(name, desc string, body Body) *classfile.Code {
	insns := make([]classfile.Instruction, len(body.Code))
	copy(insns, body.Code)
	length := classfile.Layout(insns)
	at := func(idx int) int {
		if idx == len(insns) {
			return length
		}
		if idx < 0 || idx > len(insns) {
			if b.err == nil {
				b.err = fmt.Errorf("%s%s: instruction index %d out of range", name, desc, idx)
			}
			return 0
		}
		return insns[idx].Offset
	}
	for i := range insns {
		insns[i].MapTargets(at)
	}

	code := &classfile.Code{MaxStack: body.MaxStack, MaxLocals: body.MaxLocals, Instructions: insns}
	for _, h := range body.Handlers {
		code.ExceptionTable = append(code.ExceptionTable, classfile.ExceptionHandler{
			StartPC:   at(h.StartPC),
			EndPC:     at(h.EndPC),
			HandlerPC: at(h.HandlerPC),
			CatchType: h.CatchType,
		})
	}
	if len(body.Frames) > 0 {
		frames := make([]classfile.StackMapFrame, len(body.Frames))
		mapTypes := func(vs []classfile.VerificationType) []classfile.VerificationType {
			out := append([]classfile.VerificationType(nil), vs...)
			for j := range out {
				if out[j].Tag == classfile.VTUninitialized {
					out[j].Offset = at(out[j].Offset)
				}
			}
			return out
		}
		for i, f := range body.Frames {
			f.Offset = at(f.Offset)
			f.Locals = mapTypes(f.Locals)
			f.Stack = mapTypes(f.Stack)
			frames[i] = f
		}
		code.Attributes = append(code.Attributes, classfile.Attribute{
			Name:      classfile.AttrStackMapTable,
			NameIndex: b.Utf8(classfile.AttrStackMapTable),
			StackMap:  &classfile.StackMapTable{Frames: frames},
		})
	}
	if len(body.Lines) > 0 {
		lines := make([]classfile.LineNumber, len(body.Lines))
		for i, l := range body.Lines {
			l.StartPC = at(l.StartPC)
			lines[i] = l
		}
		code.Attributes = append(code.Attributes, classfile.Attribute{
			Name:      classfile.AttrLineNumberTable,
			NameIndex: b.Utf8(classfile.AttrLineNumberTable),
			Lines:     &classfile.LineNumberTable{Entries: lines},
		})
	}
	if len(body.Locals) > 0 {
		vars := make([]classfile.LocalVariable, len(body.Locals))
		for i, v := range body.Locals {
			v.Start, v.End = at(v.Start), at(v.End)
			vars[i] = v
		}
		code.Attributes = append(code.Attributes, classfile.Attribute{
			Name:      classfile.AttrLocalVariableTable,
			NameIndex: b.Utf8(classfile.AttrLocalVariableTable),
			Locals:    &classfile.LocalVariableTable{Entries: vars},
		})
	}

	access := body.Access
	if access == 0 {
		access = classfile.AccPublic
	}
	b.cf.Methods = append(b.cf.Methods, classfile.Member{
		AccessFlags:     access,
		NameIndex:       b.Utf8(name),
		DescriptorIndex: b.Utf8(desc),
		Attributes: []classfile.Attribute{{
			Name:      classfile.AttrCode,
			NameIndex: b.Utf8(classfile.AttrCode),
			Code:      code,
		}},
	})
	return code
}

// AddAttribute appends an opaque class attribute.
func (b *ClassBuilder) AddAttribute(name string, data []byte) {
	b.cf.Attributes = append(b.cf.Attributes, classfile.Attribute{
		Name:      name,
		NameIndex: b.Utf8(name),
		Data:      data,
	})
}

// Build returns the assembled class file.
func (b *ClassBuilder) Build() (*classfile.ClassFile, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.cf, nil
}

// Bytes encodes the assembled class file.
func (b *ClassBuilder) Bytes() ([]byte, error) {
	cf, err := b.Build()
	if err != nil {
		return nil, err
	}
	return cf.Encode()
}

// Op is shorthand for an instruction without operands.
func Op(op classfile.Opcode) classfile.Instruction {
	return classfile.Instruction{Opcode: op}
}

// Imm is shorthand for an instruction with an immediate.
func Imm(op classfile.Opcode, imm interface{}) classfile.Instruction {
	return classfile.Instruction{Opcode: op, Imm: imm}
}

// Ref is shorthand for an instruction with a pool index operand.
func Ref(op classfile.Opcode, idx uint16) classfile.Instruction {
	return classfile.Instruction{Opcode: op, Imm: classfile.IndexImm{Index: idx}}
}

// Jump is shorthand for a branch to an instruction index.
func Jump(op classfile.Opcode, target int) classfile.Instruction {
	return classfile.Instruction{Opcode: op, Imm: classfile.BranchImm{Target: target}}
}

// Load is shorthand for a load or store with an explicit slot.
func Load(op classfile.Opcode, slot uint16) classfile.Instruction {
	return classfile.Instruction{Opcode: op, Imm: classfile.LocalImm{Index: slot}}
}
