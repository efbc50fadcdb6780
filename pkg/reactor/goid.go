package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the calling goroutine's runtime id by parsing the
// header line of its own stack trace. There is no supported API for this;
// it exists solely so OnReactorThread can compare "the goroutine asking"
// against "the goroutine currently driving the loop" without requiring
// every caller to thread a context value through. Used nowhere else.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if i := bytes.Index(b, []byte(prefix)); i >= 0 {
		b = b[i+len(prefix):]
	}
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
