package sync

import "github.com/Tangerg/veritas/pkg/safe"

// Go is the same as safe.Go.
func Go(fn func(), errfns ...func(error)) {
	safe.Go(fn, errfns...)
}
