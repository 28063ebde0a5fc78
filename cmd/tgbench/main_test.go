// File: cmd/tgbench/main_test.go
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tgbench/cmd"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
	execute = cmd.Execute
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(fmt.Errorf("batch: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(errors.New("claude: generation_timeout")))
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	var written string
	var code int
	osWriteFile = func(name string, data []byte, perm os.FileMode) error {
		assert.Equal(t, panicLogFile, name)
		written = string(data)
		return nil
	}
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("session table corrupted")
	}()

	assert.Equal(t, 2, code)
	assert.True(t, strings.HasPrefix(written, "panic: session table corrupted"))
	assert.Contains(t, written, "goroutine", "stack trace included")
}

func TestHandlePanic_LogWriteFails(t *testing.T) {
	defer resetMocks()

	var code int
	osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("boom")
	}()
	assert.Equal(t, 2, code)
}

func TestHandlePanic_NoPanic(t *testing.T) {
	defer resetMocks()
	osExit = func(int) { t.Fatal("exit without a panic") }

	func() {
		defer handlePanic()
	}()
}

func TestInteractive(t *testing.T) {
	in := strings.NewReader("\nversion\nbogus\nexit\nversion\n")
	var out bytes.Buffer

	require.NoError(t, interactive(context.Background(), in, &out))

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "tgbench version "+cmd.Version), "input after exit is ignored")
	assert.Contains(t, text, `Error: unknown command "bogus"`)
	assert.True(t, strings.HasSuffix(text, "Exiting tgbench.\n"))
}

func TestInteractive_StopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer

	require.NoError(t, interactive(ctx, strings.NewReader("version\nversion\n"), &out))
	assert.Equal(t, 1, strings.Count(out.String(), "tgbench version"))
}
