package pipeline

import "syscall"

// threadID returns the OS thread of the calling goroutine. It is only
// meaningful for goroutines locked to their thread.
func threadID() int {
	return syscall.Gettid()
}
