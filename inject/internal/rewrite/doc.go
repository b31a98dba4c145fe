// Package rewrite splices instruction fragments into method bodies.
//
// Rewrite pipeline, per method:
//  1. Bucket insertions by the instruction they precede
//  2. Emit the new instruction stream and re-lay it out
//  3. Re-derive branch and switch targets, exception ranges, stack map
//     frames, Uninitialized types, line numbers and local variable ranges
//  4. Raise max_stack and max_locals to cover the fragments
//
// A fragment attached to an instruction owns that instruction's incoming
// edges: branches, handlers and frames that pointed at the instruction now
// point at the fragment. Entry fragments run once, ahead of any loop back to
// offset zero.
package rewrite
