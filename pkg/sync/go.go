package sync

import "github.com/gentable/engine/pkg/safe"

// Go same to safe.GO.
func Go(fn func(), errfns ...func(error)) {
	safe.Go(fn, errfns...)
}
