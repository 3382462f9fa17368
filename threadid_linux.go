//go:build linux
// +build linux

package reactor

import "golang.org/x/sys/unix"

// currentThreadID returns the kernel thread id of the calling OS thread.
// A ReactorThread locks its goroutine to one OS thread for its entire
// life, so this value is a stable identity for "am I the loop".
func currentThreadID() int64 {
	return int64(unix.Gettid())
}
