package classfile

import "fmt"

// ParseMethodDescriptor splits a method descriptor such as "(I[Ljava/lang/String;)V"
// into its parameter and return field descriptors.
func ParseMethodDescriptor(desc string) (params []string, ret string, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, "", fmt.Errorf("method descriptor %q must start with '('", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldTypeLen(desc[i:])
		if err != nil {
			return nil, "", fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		params = append(params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("method descriptor %q has no ')'", desc)
	}
	ret = desc[i+1:]
	if ret != "V" {
		n, err := fieldTypeLen(ret)
		if err != nil || n != len(ret) {
			return nil, "", fmt.Errorf("method descriptor %q has invalid return type", desc)
		}
	}
	return params, ret, nil
}

// fieldTypeLen returns the length of the field descriptor at the start of s.
func fieldTypeLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i > 255 {
		return 0, fmt.Errorf("array type has %d dimensions", i)
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated field type %q", s)
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		for j := i + 1; j < len(s); j++ {
			if s[j] == ';' {
				if j == i+1 {
					return 0, fmt.Errorf("empty class name in %q", s)
				}
				return j + 1, nil
			}
		}
		return 0, fmt.Errorf("unterminated class type %q", s)
	}
	return 0, fmt.Errorf("invalid field type %q", s)
}

// TypeSlots returns the number of local or operand stack slots a field
// descriptor occupies: 2 for long and double, 0 for void, 1 otherwise.
func TypeSlots(desc string) int {
	switch desc {
	case "J", "D":
		return 2
	case "V", "":
		return 0
	}
	return 1
}

// ArgumentSlots returns the number of slots the parameters of a method
// descriptor occupy, excluding the receiver.
func ArgumentSlots(desc string) (int, error) {
	params, _, err := ParseMethodDescriptor(desc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range params {
		n += TypeSlots(p)
	}
	return n, nil
}

// verificationTypeOf maps a field descriptor to its verification type. Class
// references resolve through FindClass and carry index 0 when the pool has
// no matching entry.
func verificationTypeOf(pool *ConstantPool, desc string) VerificationType {
	switch desc[0] {
	case 'B', 'C', 'I', 'S', 'Z':
		return VerificationType{Tag: VTInteger}
	case 'F':
		return VerificationType{Tag: VTFloat}
	case 'J':
		return VerificationType{Tag: VTLong}
	case 'D':
		return VerificationType{Tag: VTDouble}
	case 'L':
		idx, _ := pool.FindClass(desc[1 : len(desc)-1])
		return VerificationType{Tag: VTObject, Index: idx}
	}
	idx, _ := pool.FindClass(desc)
	return VerificationType{Tag: VTObject, Index: idx}
}

// InitialLocals returns the implicit frame locals of a method on entry: the
// receiver (uninitializedThis in constructors) followed by the parameters.
func (cf *ClassFile) InitialLocals(m *Member) ([]VerificationType, error) {
	name, err := cf.Pool.Utf8(m.NameIndex)
	if err != nil {
		return nil, err
	}
	desc, err := cf.Pool.Utf8(m.DescriptorIndex)
	if err != nil {
		return nil, err
	}
	params, _, err := ParseMethodDescriptor(desc)
	if err != nil {
		return nil, err
	}
	var locals []VerificationType
	if !m.AccessFlags.IsStatic() {
		if name == InitName {
			locals = append(locals, VerificationType{Tag: VTUninitializedThis})
		} else {
			locals = append(locals, VerificationType{Tag: VTObject, Index: cf.ThisClass})
		}
	}
	for _, p := range params {
		locals = append(locals, verificationTypeOf(cf.Pool, p))
	}
	return locals, nil
}
