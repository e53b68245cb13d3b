//go:build !linux

package gpu

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentThreadID falls back to the goroutine id where no portable thread id
// is available. Combined with runtime.LockOSThread the two coincide.
func currentThreadID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}
