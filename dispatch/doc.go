// Package dispatch finds compiled class files in build output and runs the
// injection engine over them.
//
// A Language row says where one JVM compiler leaves its output: Gradle
// writes Java classes under build/classes/java/main, Kotlin under
// build/classes/kotlin/main and so on. Discover walks build roots and groups
// the class files it finds by language. Run processes every unit on a
// bounded worker pool; each unit is read, planned, rewritten and written on
// its own, so one bad file never stops the others.
//
// Output is written in place through a temporary file and a rename, or
// mirrored into a staging directory when Options.Staging is set, leaving
// the build output untouched.
//
// Watch keeps a build tree instrumented while a compiler keeps rewriting
// it. Planning skips sites that already carry their fragment, so the
// watcher's own writes settle after one pass.
package dispatch
