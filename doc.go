// Package classinject injects bytecode fragments into compiled JVM class
// files after the compiler has run, without touching source.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct responsibilities:
//
//	classinject/         Root package tying configuration to a run
//	├── classfile/       Class file model, parser, encoder and validation
//	├── inject/          Policies, fragment assembly, planning and rewriting
//	├── dispatch/        Build output discovery, worker pool, reports, watch mode
//	├── config/          TOML and YAML run files
//	├── errors/          Structured error types for debugging
//	├── testbed/         Synthetic class builder and end-to-end tests
//	└── cmd/classinject  Command line tool
//
// # Quick Start
//
// Instrument one class in memory:
//
//	trace := inject.MustParseFragment(`
//	    getstatic java/lang/System.out:Ljava/io/PrintStream;
//	    ldc "enter ${class}.${method}"
//	    invokevirtual java/io/PrintStream.println(Ljava/lang/String;)V
//	`)
//	out, res, err := inject.TransformBytes(data, inject.Policy{
//	    Method:   "run()V",
//	    Point:    inject.PointEntry,
//	    Fragment: trace,
//	})
//
// Instrument a build tree from a run file:
//
//	cfg, err := config.Load("classinject.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	job, err := classinject.NewJob(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sum, err := job.Run(ctx)
//	fmt.Println(sum)
//
// # Guarantees
//
//   - Parsing then encoding an untouched class reproduces its bytes exactly.
//   - Branch targets, switch tables, exception ranges, stack map frames,
//     line numbers and local variable ranges follow the instructions they
//     referred to before injection.
//   - max_stack and max_locals cover the injected code.
//   - A unit that fails to plan or rewrite is never written.
//   - Re-running the same policies over their own output changes nothing.
package classinject
