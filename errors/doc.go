// Package errors provides structured error types for the class injection engine.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the location path (class, method), the byte offset when
// one is known, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRewrite, errors.KindOverlappingInjection).
//		Path("com/example/App", "run()V").
//		Offset(5).
//		Detail("insertion point is not an instruction boundary").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Truncated(pos, "constant pool", 4, 1)
//	err := errors.BadReference(path, 99, 12, "Utf8")
//
// Kind sentinels match any phase:
//
//	if errors.Is(err, clerrors.MalformedUnit) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
