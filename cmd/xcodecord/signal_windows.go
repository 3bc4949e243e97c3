//go:build windows

package main

import (
	"os"
	"os/signal"
)

// signalChannel returns a channel receiving os.Interrupt. The runtime maps
// CTRL_BREAK_EVENT and console close onto it.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}
