package classfile

import (
	"bytes"
	"fmt"
	"math"

	clerrors "github.com/wippyai/classinject/errors"
)

// Constant is one constant pool entry. Which fields are meaningful depends on
// Tag:
//
//	Utf8                               Bytes (modified UTF-8, verbatim)
//	Integer, Float                     Bits (low 32 bits)
//	Long, Double                       Bits
//	Class, String, MethodType,
//	Module, Package                    Ref1 = Utf8 index
//	Fieldref, Methodref,
//	InterfaceMethodref                 Ref1 = Class, Ref2 = NameAndType
//	NameAndType                        Ref1 = name Utf8, Ref2 = descriptor Utf8
//	MethodHandle                       RefKind, Ref1 = member reference
//	Dynamic, InvokeDynamic             Ref1 = bootstrap method, Ref2 = NameAndType
//
// Numeric values keep their raw bits so that NaN payloads survive a round trip.
type Constant struct {
	Bytes   []byte
	Bits    uint64
	Tag     ConstantTag
	Ref1    uint16
	Ref2    uint16
	RefKind uint8
}

type constKey struct {
	s       string
	bits    uint64
	tag     ConstantTag
	ref1    uint16
	ref2    uint16
	refKind uint8
}

func (c *Constant) key() constKey {
	return constKey{
		s:       string(c.Bytes),
		bits:    c.Bits,
		tag:     c.Tag,
		ref1:    c.Ref1,
		ref2:    c.Ref2,
		refKind: c.RefKind,
	}
}

// ConstantPool is the ordered, 1-based table of constants of one class file.
// Slot 0 and the slot following each Long or Double are unusable and hold a
// zero-tag placeholder.
//
// The pool only grows: Add* methods return the index of an existing equal
// entry or append a new one, so indices already referenced elsewhere never
// move.
type ConstantPool struct {
	entries []Constant
	lookup  map[constKey]uint16
}

// NewConstantPool returns an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{entries: make([]Constant, 1)}
}

// Count returns constant_pool_count: the number of slots including slot 0.
func (p *ConstantPool) Count() int {
	return len(p.entries)
}

// Get returns the entry at index. The second result is false when index is
// out of bounds or names an unusable slot.
func (p *ConstantPool) Get(index uint16) (Constant, bool) {
	if index == 0 || int(index) >= len(p.entries) {
		return Constant{}, false
	}
	c := p.entries[index]
	if c.Tag == 0 {
		return Constant{}, false
	}
	return c, true
}

// Tag returns the tag at index, or 0 when the index is not usable.
func (p *ConstantPool) Tag(index uint16) ConstantTag {
	c, _ := p.Get(index)
	return c.Tag
}

// Is reports whether index names an entry with one of the given tags.
func (p *ConstantPool) Is(index uint16, tags ...ConstantTag) bool {
	t := p.Tag(index)
	if t == 0 {
		return false
	}
	for _, want := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// Utf8 returns the decoded string at a Utf8 index.
func (p *ConstantPool) Utf8(index uint16) (string, error) {
	c, ok := p.Get(index)
	if !ok || c.Tag != TagUtf8 {
		return "", p.badRef(index, TagUtf8)
	}
	return decodeModifiedUTF8(c.Bytes), nil
}

// ClassName returns the internal name referenced by a Class index.
func (p *ConstantPool) ClassName(index uint16) (string, error) {
	c, ok := p.Get(index)
	if !ok || c.Tag != TagClass {
		return "", p.badRef(index, TagClass)
	}
	return p.Utf8(c.Ref1)
}

// NameAndType returns the name and descriptor of a NameAndType index.
func (p *ConstantPool) NameAndType(index uint16) (name, descriptor string, err error) {
	c, ok := p.Get(index)
	if !ok || c.Tag != TagNameAndType {
		return "", "", p.badRef(index, TagNameAndType)
	}
	if name, err = p.Utf8(c.Ref1); err != nil {
		return "", "", err
	}
	if descriptor, err = p.Utf8(c.Ref2); err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

// MemberRef describes a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Owner      string
	Name       string
	Descriptor string
	Tag        ConstantTag
}

// String renders the reference as owner.name:descriptor for fields and
// owner.name(args)ret for methods.
func (r MemberRef) String() string {
	if r.Tag == TagFieldref {
		return r.Owner + "." + r.Name + ":" + r.Descriptor
	}
	return r.Owner + "." + r.Name + r.Descriptor
}

// Member resolves a Fieldref, Methodref or InterfaceMethodref index.
func (p *ConstantPool) Member(index uint16) (MemberRef, error) {
	c, ok := p.Get(index)
	if !ok || (c.Tag != TagFieldref && c.Tag != TagMethodref && c.Tag != TagInterfaceMethodref) {
		return MemberRef{}, p.badRef(index, TagMethodref)
	}
	owner, err := p.ClassName(c.Ref1)
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := p.NameAndType(c.Ref2)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{Owner: owner, Name: name, Descriptor: desc, Tag: c.Tag}, nil
}

// InvokeDynamicDescriptor returns the method descriptor of an InvokeDynamic
// (or Dynamic) entry.
func (p *ConstantPool) InvokeDynamicDescriptor(index uint16) (string, error) {
	c, ok := p.Get(index)
	if !ok || (c.Tag != TagInvokeDynamic && c.Tag != TagDynamic) {
		return "", p.badRef(index, TagInvokeDynamic)
	}
	_, desc, err := p.NameAndType(c.Ref2)
	return desc, err
}

// FindClass returns the index of an existing Class entry without adding one.
func (p *ConstantPool) FindClass(name string) (uint16, bool) {
	p.buildLookup()
	u, ok := p.lookup[constKey{tag: TagUtf8, s: string(encodeModifiedUTF8(name))}]
	if !ok {
		return 0, false
	}
	idx, ok := p.lookup[constKey{tag: TagClass, ref1: u}]
	return idx, ok
}

// Add appends c unless an equal entry already exists and returns its index.
func (p *ConstantPool) Add(c Constant) (uint16, error) {
	p.buildLookup()
	k := c.key()
	if idx, ok := p.lookup[k]; ok {
		return idx, nil
	}
	width := 1
	if c.Tag.wide() {
		width = 2
	}
	if len(p.entries)+width > MaxPoolSlots {
		return 0, clerrors.PoolOverflow(clerrors.PhasePlan, len(p.entries)+width)
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if width == 2 {
		p.entries = append(p.entries, Constant{})
	}
	p.lookup[k] = idx
	return idx, nil
}

// AddUtf8 interns a string.
func (p *ConstantPool) AddUtf8(s string) (uint16, error) {
	return p.Add(Constant{Tag: TagUtf8, Bytes: encodeModifiedUTF8(s)})
}

// AddClass interns a Class entry for an internal name (or array descriptor).
func (p *ConstantPool) AddClass(name string) (uint16, error) {
	return p.addNamed(TagClass, name)
}

// AddString interns a String literal.
func (p *ConstantPool) AddString(s string) (uint16, error) {
	return p.addNamed(TagString, s)
}

// AddMethodType interns a MethodType entry.
func (p *ConstantPool) AddMethodType(descriptor string) (uint16, error) {
	return p.addNamed(TagMethodType, descriptor)
}

func (p *ConstantPool) addNamed(tag ConstantTag, s string) (uint16, error) {
	u, err := p.AddUtf8(s)
	if err != nil {
		return 0, err
	}
	return p.Add(Constant{Tag: tag, Ref1: u})
}

// AddInteger interns an Integer literal.
func (p *ConstantPool) AddInteger(v int32) (uint16, error) {
	return p.Add(Constant{Tag: TagInteger, Bits: uint64(uint32(v))})
}

// AddFloat interns a Float literal.
func (p *ConstantPool) AddFloat(v float32) (uint16, error) {
	return p.Add(Constant{Tag: TagFloat, Bits: uint64(math.Float32bits(v))})
}

// AddLong interns a Long literal.
func (p *ConstantPool) AddLong(v int64) (uint16, error) {
	return p.Add(Constant{Tag: TagLong, Bits: uint64(v)})
}

// AddDouble interns a Double literal.
func (p *ConstantPool) AddDouble(v float64) (uint16, error) {
	return p.Add(Constant{Tag: TagDouble, Bits: math.Float64bits(v)})
}

// AddNameAndType interns a NameAndType entry.
func (p *ConstantPool) AddNameAndType(name, descriptor string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUtf8(descriptor)
	if err != nil {
		return 0, err
	}
	return p.Add(Constant{Tag: TagNameAndType, Ref1: n, Ref2: d})
}

// AddMember interns a Fieldref, Methodref or InterfaceMethodref.
func (p *ConstantPool) AddMember(tag ConstantTag, owner, name, descriptor string) (uint16, error) {
	if tag != TagFieldref && tag != TagMethodref && tag != TagInterfaceMethodref {
		return 0, fmt.Errorf("classfile: %s is not a member reference tag", tag)
	}
	cls, err := p.AddClass(owner)
	if err != nil {
		return 0, err
	}
	nt, err := p.AddNameAndType(name, descriptor)
	if err != nil {
		return 0, err
	}
	return p.Add(Constant{Tag: tag, Ref1: cls, Ref2: nt})
}

// Clone returns an independent copy of the pool.
func (p *ConstantPool) Clone() *ConstantPool {
	entries := make([]Constant, len(p.entries))
	copy(entries, p.entries)
	return &ConstantPool{entries: entries}
}

// Equal reports whether both pools hold the same entries in the same order.
func (p *ConstantPool) Equal(o *ConstantPool) bool {
	if len(p.entries) != len(o.entries) {
		return false
	}
	for i := range p.entries {
		a, b := &p.entries[i], &o.entries[i]
		if a.Tag != b.Tag || a.Bits != b.Bits || a.Ref1 != b.Ref1 || a.Ref2 != b.Ref2 ||
			a.RefKind != b.RefKind || !bytes.Equal(a.Bytes, b.Bytes) {
			return false
		}
	}
	return true
}

// buildLookup indexes existing entries on first use. The first occurrence of
// a duplicated constant wins so that interning is stable across runs.
func (p *ConstantPool) buildLookup() {
	if p.lookup != nil {
		return
	}
	p.lookup = make(map[constKey]uint16, len(p.entries))
	for i := 1; i < len(p.entries); i++ {
		c := &p.entries[i]
		if c.Tag == 0 {
			continue
		}
		k := c.key()
		if _, ok := p.lookup[k]; !ok {
			p.lookup[k] = uint16(i)
		}
	}
}

// appendRaw adds an entry during parsing without interning.
func (p *ConstantPool) appendRaw(c Constant) {
	p.entries = append(p.entries, c)
	if c.Tag.wide() {
		p.entries = append(p.entries, Constant{})
	}
}

func (p *ConstantPool) badRef(index uint16, want ConstantTag) error {
	return clerrors.BadReference(nil, int(index), len(p.entries), want.String())
}
