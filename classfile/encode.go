package classfile

import (
	"github.com/wippyai/classinject/classfile/internal/binary"
	clerrors "github.com/wippyai/classinject/errors"
)

// Encode serializes the class file. Every length and count is recomputed from
// the model; a ClassFile produced by Parse and left unmodified encodes to the
// exact input bytes.
func (cf *ClassFile) Encode() ([]byte, error) {
	w := binary.NewWriter()
	name, _ := cf.Name()
	path := []string{name}

	w.U4(Magic)
	w.U2(cf.MinorVersion)
	w.U2(cf.MajorVersion)

	if err := encodePool(w, cf.Pool); err != nil {
		return nil, err
	}

	w.U2(uint16(cf.AccessFlags))
	w.U2(cf.ThisClass)
	w.U2(cf.SuperClass)

	if err := checkCount(path, "interfaces", len(cf.Interfaces)); err != nil {
		return nil, err
	}
	w.U2(uint16(len(cf.Interfaces)))
	for _, idx := range cf.Interfaces {
		w.U2(idx)
	}

	if err := encodeMembers(w, append(path, "fields"), cf.Fields); err != nil {
		return nil, err
	}
	if err := encodeMembers(w, append(path, "methods"), cf.Methods); err != nil {
		return nil, err
	}
	if err := encodeAttributes(w, path, cf.Attributes); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func checkCount(path []string, what string, n int) error {
	if n > 0xFFFF {
		return clerrors.Overflow(clerrors.PhaseWrite, append(path[:len(path):len(path)], what), n, "u2 count")
	}
	return nil
}

func encodePool(w *binary.Writer, pool *ConstantPool) error {
	if pool.Count() > MaxPoolSlots {
		return clerrors.PoolOverflow(clerrors.PhaseWrite, pool.Count())
	}
	w.U2(uint16(pool.Count()))
	for i := 1; i < pool.Count(); i++ {
		c := &pool.entries[i]
		if c.Tag == 0 {
			continue
		}
		w.U1(byte(c.Tag))
		switch c.Tag {
		case TagUtf8:
			if len(c.Bytes) > 0xFFFF {
				return clerrors.Overflow(clerrors.PhaseWrite, []string{"constant_pool"}, len(c.Bytes), "utf8 length")
			}
			w.U2(uint16(len(c.Bytes)))
			w.WriteBytes(c.Bytes)
		case TagInteger, TagFloat:
			w.U4(uint32(c.Bits))
		case TagLong, TagDouble:
			w.U8(c.Bits)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.U2(c.Ref1)
		case TagMethodHandle:
			w.U1(c.RefKind)
			w.U2(c.Ref1)
		default:
			w.U2(c.Ref1)
			w.U2(c.Ref2)
		}
	}
	return nil
}

func encodeMembers(w *binary.Writer, path []string, members []Member) error {
	if err := checkCount(path, "count", len(members)); err != nil {
		return err
	}
	w.U2(uint16(len(members)))
	for i := range members {
		m := &members[i]
		w.U2(uint16(m.AccessFlags))
		w.U2(m.NameIndex)
		w.U2(m.DescriptorIndex)
		if err := encodeAttributes(w, path, m.Attributes); err != nil {
			return err
		}
	}
	return nil
}

func encodeAttributes(w *binary.Writer, path []string, attrs []Attribute) error {
	if err := checkCount(path, "attributes", len(attrs)); err != nil {
		return err
	}
	w.U2(uint16(len(attrs)))
	for i := range attrs {
		a := &attrs[i]
		apath := append(path[:len(path):len(path)], a.Name)
		var body []byte
		var err error
		switch {
		case a.Code != nil:
			body, err = encodeCode(a.Code, apath)
		case a.StackMap != nil:
			body, err = encodeStackMapTable(a.StackMap, apath)
		case a.Lines != nil:
			body, err = encodeLineNumbers(a.Lines, apath)
		case a.Locals != nil:
			body, err = encodeLocalVariables(a.Locals, apath)
		default:
			body = a.Data
		}
		if err != nil {
			return err
		}
		w.U2(a.NameIndex)
		w.Block(body)
	}
	return nil
}

func encodeCode(c *Code, path []string) ([]byte, error) {
	code, err := encodeInstructions(c.Instructions, path)
	if err != nil {
		return nil, err
	}
	w := binary.NewWriter()
	w.U2(c.MaxStack)
	w.U2(c.MaxLocals)
	w.Block(code)

	if err := checkCount(path, "exception_table", len(c.ExceptionTable)); err != nil {
		return nil, err
	}
	w.U2(uint16(len(c.ExceptionTable)))
	for _, h := range c.ExceptionTable {
		w.U2(uint16(h.StartPC))
		w.U2(uint16(h.EndPC))
		w.U2(uint16(h.HandlerPC))
		w.U2(h.CatchType)
	}
	if err := encodeAttributes(w, path, c.Attributes); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func encodeLineNumbers(t *LineNumberTable, path []string) ([]byte, error) {
	if err := checkCount(path, "entries", len(t.Entries)); err != nil {
		return nil, err
	}
	w := binary.NewWriter()
	w.U2(uint16(len(t.Entries)))
	for _, e := range t.Entries {
		w.U2(uint16(e.StartPC))
		w.U2(e.Line)
	}
	return w.Bytes(), nil
}

func encodeLocalVariables(t *LocalVariableTable, path []string) ([]byte, error) {
	if err := checkCount(path, "entries", len(t.Entries)); err != nil {
		return nil, err
	}
	w := binary.NewWriter()
	w.U2(uint16(len(t.Entries)))
	for _, e := range t.Entries {
		w.U2(uint16(e.Start))
		w.U2(uint16(e.End - e.Start))
		w.U2(e.NameIndex)
		w.U2(e.DescriptorIndex)
		w.U2(e.Index)
	}
	return w.Bytes(), nil
}
