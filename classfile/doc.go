// Package classfile provides JVM class file parsing and encoding.
//
// This package implements a parser and encoder for class files as described
// in chapter 4 of the Java Virtual Machine Specification, versions 45 (JDK
// 1.1) through 69 (JDK 25).
//
// # Model
//
//	ClassFile
//	  Pool          constant pool, append-only interning
//	  Fields        field_info, attributes opaque
//	  Methods       method_info, Code decoded
//	  Attributes    class attributes, opaque
//
//	Code
//	  Instructions  offset, opcode, typed immediate
//	  ExceptionTable
//	  Attributes    StackMapTable, LineNumberTable, LocalVariableTable and
//	                LocalVariableTypeTable decoded, others opaque
//
// Branch targets, exception ranges and frame offsets are stored as absolute
// code offsets so that an edited instruction stream can be re-laid out with
// Layout and every reference re-derived.
//
// # Parsing
//
//	data, _ := os.ReadFile("App.class")
//	cf, err := classfile.Parse(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Errors are *errors.Error values of kind malformed_unit, truncated_input or
// bad_constant_reference.
//
// # Encoding
//
//	out, err := cf.Encode()
//
// Encoding an unmodified ClassFile reproduces the parsed bytes exactly.
//
// # Validation
//
// Validate checks operand references, instruction boundaries and stack map
// frames, and compares the declared max_stack with the depth computed by
// MaxStackDepth.
package classfile
