//go:build debug

package debug

import "fmt"

func ON() bool { return true }

// Assert panics with args if cond is false. Used at points the rest of the
// module treats as invariants — e.g. enqueueWrite asserts that it is never
// handed an empty frame — for anyone building with -tags debug.
func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(args...))
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
