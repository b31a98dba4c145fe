package classfile

// ClassFile is the in-memory form of one compiled unit.
type ClassFile struct {
	Pool         *ConstantPool
	Interfaces   []uint16
	Fields       []Member
	Methods      []Member
	Attributes   []Attribute
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  AccessFlags
	ThisClass    uint16
	SuperClass   uint16
}

// Name returns the internal name of the class.
func (cf *ClassFile) Name() (string, error) {
	return cf.Pool.ClassName(cf.ThisClass)
}

// Member is a field_info or method_info structure.
type Member struct {
	Attributes      []Attribute
	AccessFlags     AccessFlags
	NameIndex       uint16
	DescriptorIndex uint16
}

// Code returns the decoded Code attribute, or nil for abstract and native
// methods and for fields.
func (m *Member) Code() *Code {
	for i := range m.Attributes {
		if c := m.Attributes[i].Code; c != nil {
			return c
		}
	}
	return nil
}

// Signature returns name+descriptor, e.g. "run()V".
func (m *Member) Signature(pool *ConstantPool) (string, error) {
	name, err := pool.Utf8(m.NameIndex)
	if err != nil {
		return "", err
	}
	desc, err := pool.Utf8(m.DescriptorIndex)
	if err != nil {
		return "", err
	}
	return name + desc, nil
}

// Attribute is one attribute_info. Exactly one of the payload fields is set:
// a decoded form for the attributes this package understands, otherwise Data
// holds the raw info bytes.
type Attribute struct {
	Code      *Code
	StackMap  *StackMapTable
	Lines     *LineNumberTable
	Locals    *LocalVariableTable
	Name      string
	Data      []byte
	NameIndex uint16
}

// Code is a decoded Code attribute.
type Code struct {
	Instructions   []Instruction
	ExceptionTable []ExceptionHandler
	Attributes     []Attribute
	MaxStack       uint16
	MaxLocals      uint16
}

// Length returns code_length as implied by the instruction layout.
func (c *Code) Length() int {
	if len(c.Instructions) == 0 {
		return 0
	}
	last := c.Instructions[len(c.Instructions)-1]
	return last.Offset + last.Size()
}

// InstructionAt returns the index of the instruction starting at offset.
func (c *Code) InstructionAt(offset int) (int, bool) {
	lo, hi := 0, len(c.Instructions)
	for lo < hi {
		mid := (lo + hi) / 2
		switch off := c.Instructions[mid].Offset; {
		case off == offset:
			return mid, true
		case off < offset:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// StackMap returns the StackMapTable sub-attribute, if present.
func (c *Code) StackMap() *StackMapTable {
	for i := range c.Attributes {
		if s := c.Attributes[i].StackMap; s != nil {
			return s
		}
	}
	return nil
}

// ExceptionHandler is one exception_table entry. Offsets are byte offsets in
// the code array; EndPC is exclusive and may equal the code length.
type ExceptionHandler struct {
	StartPC   int
	EndPC     int
	HandlerPC int
	CatchType uint16 // 0 catches everything
}

// LineNumberTable maps code offsets to source lines.
type LineNumberTable struct {
	Entries []LineNumber
}

// LineNumber is one line_number_table entry.
type LineNumber struct {
	StartPC int
	Line    uint16
}

// LocalVariableTable holds either a LocalVariableTable or a
// LocalVariableTypeTable; the layouts are identical and the attribute name
// tells them apart.
type LocalVariableTable struct {
	Entries []LocalVariable
}

// LocalVariable is one local variable range. End is exclusive.
type LocalVariable struct {
	Start           int
	End             int
	NameIndex       uint16
	DescriptorIndex uint16 // signature index for LocalVariableTypeTable
	Index           uint16
}
