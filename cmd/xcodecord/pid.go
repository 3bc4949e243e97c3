package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token that proves ownership of
// the PID file, so [removePID] only deletes a file this instance wrote.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID opens the PID file, takes the advisory lock and writes
// "PID:TOKEN". The returned handle holds the lock and must stay open for the
// daemon's lifetime; pass it to [removePID] on shutdown.
func writePID(dataPaths DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(dataPaths.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d:%s", os.Getpid(), token); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the lock and removes the PID file if it still carries
// token.
func removePID(dataPaths DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(dataPaths.PID())
	if err != nil {
		return
	}
	if _, owner, ok := strings.Cut(string(data), ":"); ok && owner == token {
		os.Remove(dataPaths.PID())
	}
}

// checkStalePID reports whether another daemon holds the PID file lock. A
// file left by a dead instance is removed.
func checkStalePID(dataPaths DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(dataPaths.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(dataPaths.PID())
		f.Close()
		head, _, _ := strings.Cut(string(data), ":")
		if p, convErr := strconv.Atoi(head); convErr == nil {
			return true, p
		}
		return true, 0
	}

	// Lock acquired, so the previous instance is gone.
	_ = unlockFile(f)
	f.Close()
	os.Remove(dataPaths.PID())
	return false, 0
}
