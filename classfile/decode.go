package classfile

import (
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/classinject/classfile/internal/binary"
	clerrors "github.com/wippyai/classinject/errors"
)

// Parse decodes a class file. The returned ClassFile shares no memory with
// data.
func Parse(data []byte) (*ClassFile, error) {
	if len(data) < 8 {
		return nil, clerrors.Malformed(0, "%d bytes is too short for a class file header", len(data))
	}
	p := &parser{r: binary.NewReader(data)}
	cf, err := p.parse()
	if err != nil {
		Logger().Debug("parse failed", zap.Error(err))
		return nil, err
	}
	return cf, nil
}

type parser struct {
	r    *binary.Reader
	cf   *ClassFile
	name string
}

// short converts a reader error into a structured error. Errors that are
// already structured pass through.
func (p *parser) short(err error, what string) error {
	var ce *clerrors.Error
	if errors.As(err, &ce) {
		return err
	}
	var sr *binary.ShortReadError
	if errors.As(err, &sr) {
		e := clerrors.Truncated(sr.Position, what, sr.Need, sr.Have)
		if p.name != "" {
			e.Path = []string{p.name}
		}
		return e
	}
	return clerrors.Malformed(p.r.Position(), "%s: %v", what, err)
}

func (p *parser) u2(what string) (uint16, error) {
	v, err := p.r.ReadU2()
	if err != nil {
		return 0, p.short(err, what)
	}
	return v, nil
}

func (p *parser) parse() (*ClassFile, error) {
	magic, _ := p.r.ReadU4()
	if magic != Magic {
		return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Offset(0).Value(magic).Detail("bad magic 0x%08x", magic).Build()
	}
	minor, _ := p.r.ReadU2()
	major, _ := p.r.ReadU2()
	if major < MinMajorVersion || major > MaxMajorVersion {
		return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Offset(4).Value(major).Detail("unsupported class file version %d.%d", major, minor).Build()
	}
	p.cf = &ClassFile{MinorVersion: minor, MajorVersion: major}

	if err := p.parsePool(); err != nil {
		return nil, err
	}
	pool := p.cf.Pool

	access, err := p.u2("access_flags")
	if err != nil {
		return nil, err
	}
	p.cf.AccessFlags = AccessFlags(access)

	if p.cf.ThisClass, err = p.u2("this_class"); err != nil {
		return nil, err
	}
	name, err := pool.ClassName(p.cf.ThisClass)
	if err != nil {
		return nil, withPath(err, "this_class")
	}
	p.name = name

	if p.cf.SuperClass, err = p.u2("super_class"); err != nil {
		return nil, err
	}
	if p.cf.SuperClass != 0 && !pool.Is(p.cf.SuperClass, TagClass) {
		return nil, clerrors.BadReference([]string{name, "super_class"}, int(p.cf.SuperClass), pool.Count(), TagClass.String())
	}

	n, err := p.u2("interfaces_count")
	if err != nil {
		return nil, err
	}
	p.cf.Interfaces = make([]uint16, n)
	for i := range p.cf.Interfaces {
		idx, err := p.u2("interface")
		if err != nil {
			return nil, err
		}
		if !pool.Is(idx, TagClass) {
			return nil, clerrors.BadReference([]string{name, "interfaces", strconv.Itoa(i)}, int(idx), pool.Count(), TagClass.String())
		}
		p.cf.Interfaces[i] = idx
	}

	if p.cf.Fields, err = p.parseMembers("fields"); err != nil {
		return nil, err
	}
	if p.cf.Methods, err = p.parseMembers("methods"); err != nil {
		return nil, err
	}
	if p.cf.Attributes, err = p.parseAttributes([]string{name}, nil); err != nil {
		return nil, err
	}

	if rem := p.r.Remaining(); rem != 0 {
		return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Path(name).Offset(p.r.Position()).Value(rem).
			Detail("%d trailing bytes after class attributes", rem).Build()
	}
	return p.cf, nil
}

func withPath(err error, path ...string) error {
	var ce *clerrors.Error
	if errors.As(err, &ce) {
		e := *ce
		e.Path = append(append([]string(nil), path...), ce.Path...)
		return &e
	}
	return err
}

func (p *parser) parsePool() error {
	count, err := p.u2("constant_pool_count")
	if err != nil {
		return err
	}
	if count == 0 {
		return clerrors.Malformed(8, "constant_pool_count is zero")
	}
	pool := NewConstantPool()
	for i := 1; i < int(count); {
		start := p.r.Position()
		b, err := p.r.ReadU1()
		if err != nil {
			return p.short(err, "constant tag")
		}
		c := Constant{Tag: ConstantTag(b)}
		switch c.Tag {
		case TagUtf8:
			n, err := p.u2("utf8 length")
			if err != nil {
				return err
			}
			if c.Bytes, err = p.r.ReadBytes(int(n)); err != nil {
				return p.short(err, "utf8 bytes")
			}
		case TagInteger, TagFloat:
			v, err := p.r.ReadU4()
			if err != nil {
				return p.short(err, "constant value")
			}
			c.Bits = uint64(v)
		case TagLong, TagDouble:
			if i+1 >= int(count) {
				return clerrors.Malformed(start, "%s constant at %d overruns the pool", c.Tag, i)
			}
			v, err := p.r.ReadU8()
			if err != nil {
				return p.short(err, "constant value")
			}
			c.Bits = v
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			if c.Ref1, err = p.u2("constant reference"); err != nil {
				return err
			}
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			if c.Ref1, err = p.u2("constant reference"); err != nil {
				return err
			}
			if c.Ref2, err = p.u2("constant reference"); err != nil {
				return err
			}
		case TagMethodHandle:
			if c.RefKind, err = p.r.ReadU1(); err != nil {
				return p.short(err, "reference kind")
			}
			if c.Ref1, err = p.u2("constant reference"); err != nil {
				return err
			}
		default:
			return clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
				Path("constant_pool", strconv.Itoa(i)).Offset(start).Value(b).
				Detail("unknown constant tag %d", b).Build()
		}
		pool.appendRaw(c)
		if c.Tag.wide() {
			i += 2
		} else {
			i++
		}
	}
	p.cf.Pool = pool
	return checkPool(pool)
}

// checkPool verifies every pool-internal reference.
func checkPool(pool *ConstantPool) error {
	for i := 1; i < pool.Count(); i++ {
		c := pool.entries[i]
		path := []string{"constant_pool", strconv.Itoa(i)}
		ref := func(idx uint16, tags ...ConstantTag) error {
			if !pool.Is(idx, tags...) {
				return clerrors.BadReference(path, int(idx), pool.Count(), tags[0].String())
			}
			return nil
		}
		var err error
		switch c.Tag {
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			err = ref(c.Ref1, TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if err = ref(c.Ref1, TagClass); err == nil {
				err = ref(c.Ref2, TagNameAndType)
			}
		case TagNameAndType:
			if err = ref(c.Ref1, TagUtf8); err == nil {
				err = ref(c.Ref2, TagUtf8)
			}
		case TagDynamic, TagInvokeDynamic:
			err = ref(c.Ref2, TagNameAndType)
		case TagMethodHandle:
			switch c.RefKind {
			case RefGetField, RefGetStatic, RefPutField, RefPutStatic:
				err = ref(c.Ref1, TagFieldref)
			case RefInvokeVirtual, RefNewInvokeSpecial:
				err = ref(c.Ref1, TagMethodref)
			case RefInvokeStatic, RefInvokeSpecial:
				err = ref(c.Ref1, TagMethodref, TagInterfaceMethodref)
			case RefInvokeInterface:
				err = ref(c.Ref1, TagInterfaceMethodref)
			default:
				err = clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
					Path(path...).Value(c.RefKind).
					Detail("invalid method handle kind %d", c.RefKind).Build()
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseMembers(what string) ([]Member, error) {
	pool := p.cf.Pool
	n, err := p.u2(what + "_count")
	if err != nil {
		return nil, err
	}
	members := make([]Member, n)
	for i := range members {
		m := &members[i]
		path := []string{p.name, what, strconv.Itoa(i)}
		access, err := p.u2("access_flags")
		if err != nil {
			return nil, err
		}
		m.AccessFlags = AccessFlags(access)
		if m.NameIndex, err = p.u2("name_index"); err != nil {
			return nil, err
		}
		if !pool.Is(m.NameIndex, TagUtf8) {
			return nil, clerrors.BadReference(path, int(m.NameIndex), pool.Count(), TagUtf8.String())
		}
		if m.DescriptorIndex, err = p.u2("descriptor_index"); err != nil {
			return nil, err
		}
		if !pool.Is(m.DescriptorIndex, TagUtf8) {
			return nil, clerrors.BadReference(path, int(m.DescriptorIndex), pool.Count(), TagUtf8.String())
		}
		if what == "methods" {
			if sig, err := m.Signature(pool); err == nil {
				path = []string{p.name, sig}
			}
		}
		var owner *Member
		if what == "methods" {
			owner = m
		}
		if m.Attributes, err = p.parseAttributes(path, owner); err != nil {
			return nil, err
		}
	}
	return members, nil
}

// parseAttributes reads an attributes table from the main reader. A non-nil
// method enables decoding of the Code attribute.
func (p *parser) parseAttributes(path []string, method *Member) ([]Attribute, error) {
	n, err := p.u2("attributes_count")
	if err != nil {
		return nil, err
	}
	attrs := make([]Attribute, n)
	for i := range attrs {
		a := &attrs[i]
		if a.NameIndex, err = p.u2("attribute_name_index"); err != nil {
			return nil, err
		}
		if a.Name, err = p.cf.Pool.Utf8(a.NameIndex); err != nil {
			return nil, withPath(err, path...)
		}
		length, err := p.r.ReadU4()
		if err != nil {
			return nil, p.short(err, "attribute_length")
		}
		base := p.r.Position()
		if a.Data, err = p.r.ReadBytes(int(length)); err != nil {
			return nil, p.short(err, a.Name+" attribute")
		}
		if method != nil && a.Name == AttrCode {
			code, err := p.parseCode(a.Data, base, append(path[:len(path):len(path)], AttrCode))
			if err != nil {
				return nil, err
			}
			a.Code = code
			a.Data = nil
		}
	}
	return attrs, nil
}

// lengthMismatch reports an attribute whose declared length does not match
// its parsed contents.
func lengthMismatch(path []string, base int, err error) error {
	var ce *clerrors.Error
	if errors.As(err, &ce) {
		return err
	}
	e := clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
		Path(path...).Offset(base).Cause(err).
		Detail("attribute length does not match its contents").Build()
	return e
}

func (p *parser) parseCode(data []byte, base int, path []string) (*Code, error) {
	pool := p.cf.Pool
	r := binary.NewReader(data)
	code := &Code{}
	var err error

	if code.MaxStack, err = r.ReadU2(); err != nil {
		return nil, lengthMismatch(path, base, err)
	}
	if code.MaxLocals, err = r.ReadU2(); err != nil {
		return nil, lengthMismatch(path, base, err)
	}
	codeLen, err := r.ReadU4()
	if err != nil {
		return nil, lengthMismatch(path, base, err)
	}
	if codeLen == 0 || codeLen > MaxCodeLength {
		return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Path(path...).Offset(base+4).Value(codeLen).
			Detail("code_length %d outside 1..%d", codeLen, MaxCodeLength).Build()
	}
	raw, err := r.ReadBytes(int(codeLen))
	if err != nil {
		return nil, lengthMismatch(path, base, err)
	}
	if code.Instructions, err = decodeInstructions(raw, pool, path); err != nil {
		return nil, err
	}
	length := int(codeLen)

	boundary := func(off int, allowEnd bool) bool {
		if allowEnd && off == length {
			return true
		}
		_, ok := code.InstructionAt(off)
		return ok
	}

	nex, err := r.ReadU2()
	if err != nil {
		return nil, lengthMismatch(path, base, err)
	}
	code.ExceptionTable = make([]ExceptionHandler, nex)
	for i := range code.ExceptionTable {
		var v [4]uint16
		for j := range v {
			if v[j], err = r.ReadU2(); err != nil {
				return nil, lengthMismatch(path, base, err)
			}
		}
		h := ExceptionHandler{StartPC: int(v[0]), EndPC: int(v[1]), HandlerPC: int(v[2]), CatchType: v[3]}
		if !boundary(h.StartPC, false) || !boundary(h.EndPC, true) || h.StartPC >= h.EndPC || !boundary(h.HandlerPC, false) {
			return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
				Path(append(path, "exception_table", strconv.Itoa(i))...).
				Detail("handler range [%d,%d) -> %d is not on instruction boundaries", h.StartPC, h.EndPC, h.HandlerPC).Build()
		}
		if h.CatchType != 0 && !pool.Is(h.CatchType, TagClass) {
			return nil, clerrors.BadReference(append(path, "exception_table", strconv.Itoa(i)), int(h.CatchType), pool.Count(), TagClass.String())
		}
		code.ExceptionTable[i] = h
	}

	na, err := r.ReadU2()
	if err != nil {
		return nil, lengthMismatch(path, base, err)
	}
	code.Attributes = make([]Attribute, na)
	for i := range code.Attributes {
		a := &code.Attributes[i]
		if a.NameIndex, err = r.ReadU2(); err != nil {
			return nil, lengthMismatch(path, base, err)
		}
		if a.Name, err = pool.Utf8(a.NameIndex); err != nil {
			return nil, withPath(err, path...)
		}
		alen, err := r.ReadU4()
		if err != nil {
			return nil, lengthMismatch(path, base, err)
		}
		abase := base + r.Position()
		body, err := r.ReadBytes(int(alen))
		if err != nil {
			return nil, lengthMismatch(path, base, err)
		}
		apath := append(path[:len(path):len(path)], a.Name)
		if err := decodeCodeAttribute(a, body, pool, apath, abase, boundary); err != nil {
			return nil, err
		}
	}

	if r.Remaining() != 0 {
		return nil, clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Path(path...).Offset(base).Value(r.Remaining()).
			Detail("%d bytes left after Code contents", r.Remaining()).Build()
	}
	return code, nil
}

func decodeCodeAttribute(a *Attribute, body []byte, pool *ConstantPool, path []string, base int, boundary func(int, bool) bool) error {
	notBoundary := func(off int, what string) error {
		return clerrors.New(clerrors.PhaseRead, clerrors.KindMalformedUnit).
			Path(path...).Value(off).
			Detail("%s %d is not an instruction boundary", what, off).Build()
	}
	switch a.Name {
	case AttrStackMapTable:
		t, err := decodeStackMapTable(body, pool, path)
		if err != nil {
			return lengthMismatch(path, base, err)
		}
		for _, f := range t.Frames {
			if !boundary(f.Offset, false) {
				return notBoundary(f.Offset, "frame offset")
			}
			for _, v := range append(f.Locals[:len(f.Locals):len(f.Locals)], f.Stack...) {
				if v.Tag == VTUninitialized && !boundary(v.Offset, false) {
					return notBoundary(v.Offset, "uninitialized offset")
				}
			}
		}
		a.StackMap = t
	case AttrLineNumberTable:
		t, err := decodeLineNumbers(body)
		if err != nil {
			return lengthMismatch(path, base, err)
		}
		for _, e := range t.Entries {
			if !boundary(e.StartPC, false) {
				return notBoundary(e.StartPC, "line start")
			}
		}
		a.Lines = t
	case AttrLocalVariableTable, AttrLocalVariableTypeTable:
		t, err := decodeLocalVariables(body)
		if err != nil {
			return lengthMismatch(path, base, err)
		}
		for _, e := range t.Entries {
			if !boundary(e.Start, false) || !boundary(e.End, true) {
				return notBoundary(e.Start, "local variable range start")
			}
			if !pool.Is(e.NameIndex, TagUtf8) {
				return clerrors.BadReference(path, int(e.NameIndex), pool.Count(), TagUtf8.String())
			}
			if !pool.Is(e.DescriptorIndex, TagUtf8) {
				return clerrors.BadReference(path, int(e.DescriptorIndex), pool.Count(), TagUtf8.String())
			}
		}
		a.Locals = t
	default:
		a.Data = body
	}
	return nil
}

func decodeLineNumbers(body []byte) (*LineNumberTable, error) {
	r := binary.NewReader(body)
	n, err := r.ReadU2()
	if err != nil {
		return nil, err
	}
	t := &LineNumberTable{Entries: make([]LineNumber, n)}
	for i := range t.Entries {
		pc, err := r.ReadU2()
		if err != nil {
			return nil, err
		}
		line, err := r.ReadU2()
		if err != nil {
			return nil, err
		}
		t.Entries[i] = LineNumber{StartPC: int(pc), Line: line}
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Remaining())
	}
	return t, nil
}

func decodeLocalVariables(body []byte) (*LocalVariableTable, error) {
	r := binary.NewReader(body)
	n, err := r.ReadU2()
	if err != nil {
		return nil, err
	}
	t := &LocalVariableTable{Entries: make([]LocalVariable, n)}
	for i := range t.Entries {
		var v [5]uint16
		for j := range v {
			if v[j], err = r.ReadU2(); err != nil {
				return nil, err
			}
		}
		t.Entries[i] = LocalVariable{
			Start:           int(v[0]),
			End:             int(v[0]) + int(v[1]),
			NameIndex:       v[2],
			DescriptorIndex: v[3],
			Index:           v[4],
		}
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Remaining())
	}
	return t, nil
}
