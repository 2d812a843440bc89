package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// -- Setup Helpers --

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func panicAndHandle() {
	defer handlePanic()
	panic("collector table corrupted")
}

func TestHandlePanic_WritesLog(t *testing.T) {
	defer resetMocks()
	var written string
	exitCode := -1
	osWriteFile = func(name string, data []byte, _ os.FileMode) error {
		assert.Equal(t, panicLogFile, name)
		written = string(data)
		return nil
	}
	osExit = func(code int) { exitCode = code }

	panicAndHandle()

	assert.Equal(t, 2, exitCode)
	assert.Contains(t, written, "panic: collector table corrupted")
	assert.Contains(t, written, "goroutine")
}

func TestHandlePanic_WriteFailure(t *testing.T) {
	defer resetMocks()
	exitCode := -1
	osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
	osExit = func(code int) { exitCode = code }

	panicAndHandle()
	assert.Equal(t, 1, exitCode)
}

func TestHandlePanic_NoPanic(t *testing.T) {
	defer resetMocks()
	called := false
	osExit = func(int) { called = true }

	func() {
		defer handlePanic()
	}()
	assert.False(t, called)
}
