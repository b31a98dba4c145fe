// Package config loads run files for classinject.
//
// A run file is TOML (.toml) or YAML (.yaml, .yml) with the same keys:
//
//	enable = true
//	workers = 4
//	staging = "build/instrumented"
//	unit_timeout = "10s"
//	roots = ["build/classes"]
//
//	[languages]
//	kotlin = ["kotlin/main", "kotlin/release"]
//
//	[[policy]]
//	name = "trace"
//	method = "run()V"
//	point = "entry"
//	fragment = '''
//	getstatic java/lang/System.out:Ljava/io/PrintStream;
//	ldc "enter ${class}.${method}"
//	invokevirtual java/io/PrintStream.println(Ljava/lang/String;)V
//	'''
//
// Relative paths are resolved against the run file's directory. Languages
// extend or override the built-in table.
package config
