//go:build !release

// Package assert reports programming errors. Dev builds panic on a failed condition; builds with
// the release tag compile every check down to nothing.
package assert

import "fmt"

// Enabled reports whether assertions are compiled in.
const Enabled = true

func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
