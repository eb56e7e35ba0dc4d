//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyResume delivers SIGCONT, sent when the process is resumed after a
// stop, which is the terminal equivalent of the app becoming visible again.
func notifyResume() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGCONT)
	return ch, func() { signal.Stop(ch) }
}
