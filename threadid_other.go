//go:build !linux
// +build !linux

package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentThreadID identifies the calling goroutine on platforms without a
// cheap kernel thread id. It parses the "goroutine N [...]" header that
// runtime.Stack always writes first; slower than a real tid, but only
// used on the non-Linux fallback path.
func currentThreadID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if end := bytes.IndexByte(b, ' '); end >= 0 {
		b = b[:end]
	}
	id, _ := strconv.ParseInt(string(b), 10, 64)
	return id
}
