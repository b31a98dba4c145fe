// Package inject plans and applies instruction injection into JVM class files.
//
// # Overview
//
// A Policy names a method by exact signature, an insertion point and a
// Fragment of text assembly. NewPlan finds every site the policy applies to
// and resolves the fragment against the class's own constant pool; the
// rewriter then splices the fragments in and re-derives every offset the
// method carries.
//
// Insertion points:
//
//	entry        once, before the first instruction
//	exit         before every *return
//	before-call  before every invoke* whose target equals Policy.Call
//	offset       before the instruction at Policy.Offset
//
// # Usage
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
// # Idempotence
//
// Fragments planned ahead of one instruction are spliced as a single run. A
// fragment is skipped when it is already part of the run next to its site,
// so running the same policies over their own output changes nothing and
// TransformBytes hands back the input slice. A policy added later joins the
// existing run instead of duplicating it.
//
// # Fragments
//
// Fragments are straight-line code: no branches, returns, throws or monitor
// instructions. They may push and pop freely but must never consume values
// they did not push and must leave the operand stack as they found it. They
// may load any local, but stores and iinc must target slots at or above the
// method's max_locals; NewPlan rejects a fragment that writes a slot the
// method already owns.
package inject
