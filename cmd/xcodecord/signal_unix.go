//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// signalChannel returns a channel receiving SIGINT and SIGTERM, the signal
// launchd sends to stop an agent.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
