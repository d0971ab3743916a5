package main

import (
	"errors"
	"strings"
	"testing"
)

// mockMigrationRunner records calls and returns configured errors.
type mockMigrationRunner struct {
	upCalls      int
	downCalls    int
	statusCalls  int
	versionCalls int
	dropCalls    int
	closeCalls   int

	upErr      error
	downErr    error
	statusErr  error
	versionErr error
	dropErr    error
}

var _ MigrationRunner = (*mockMigrationRunner)(nil)

func (m *mockMigrationRunner) Up() error {
	m.upCalls++

	return m.upErr
}

func (m *mockMigrationRunner) Down() error {
	m.downCalls++

	return m.downErr
}

func (m *mockMigrationRunner) Status() error {
	m.statusCalls++

	return m.statusErr
}

func (m *mockMigrationRunner) Version() error {
	m.versionCalls++

	return m.versionErr
}

func (m *mockMigrationRunner) Drop() error {
	m.dropCalls++

	return m.dropErr
}

func (m *mockMigrationRunner) Close() error {
	m.closeCalls++

	return nil
}

func TestExecuteCommand(t *testing.T) {
	skipIfNotShort(t)

	t.Run("up", func(t *testing.T) {
		mock := &mockMigrationRunner{}

		if err := executeCommand("up", mock); err != nil {
			t.Errorf("unexpected error: %v", err)
		}

		if mock.upCalls != 1 {
			t.Errorf("expected 1 Up call, got %d", mock.upCalls)
		}
	})

	t.Run("down", func(t *testing.T) {
		mock := &mockMigrationRunner{}

		if err := executeCommand("down", mock); err != nil {
			t.Errorf("unexpected error: %v", err)
		}

		if mock.downCalls != 1 {
			t.Errorf("expected 1 Down call, got %d", mock.downCalls)
		}
	})

	t.Run("status", func(t *testing.T) {
		mock := &mockMigrationRunner{}

		if err := executeCommand("status", mock); err != nil {
			t.Errorf("unexpected error: %v", err)
		}

		if mock.statusCalls != 1 {
			t.Errorf("expected 1 Status call, got %d", mock.statusCalls)
		}
	})

	t.Run("version", func(t *testing.T) {
		mock := &mockMigrationRunner{}

		if err := executeCommand("version", mock); err != nil {
			t.Errorf("unexpected error: %v", err)
		}

		if mock.versionCalls != 1 {
			t.Errorf("expected 1 Version call, got %d", mock.versionCalls)
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		mock := &mockMigrationRunner{}

		err := executeCommand("sideways", mock)
		if err == nil {
			t.Fatal("expected error for unknown command, got nil")
		}

		if !strings.Contains(err.Error(), "unknown command") {
			t.Errorf("expected 'unknown command' error, got: %v", err)
		}

		if mock.upCalls+mock.downCalls+mock.statusCalls+mock.versionCalls+mock.dropCalls != 0 {
			t.Error("no runner method should be called for an unknown command")
		}
	})

	t.Run("error propagation", func(t *testing.T) {
		wantErr := errors.New("connection refused")
		mock := &mockMigrationRunner{upErr: wantErr}

		err := executeCommand("up", mock)
		if !errors.Is(err, wantErr) {
			t.Errorf("expected the runner error to propagate, got: %v", err)
		}
	})

	// Under go test stdin is empty, so the confirmation prompt reads EOF
	// and the drop is cancelled.
	t.Run("drop without confirmation", func(t *testing.T) {
		mock := &mockMigrationRunner{}

		if err := executeCommand("drop", mock); err != nil {
			t.Errorf("cancelled drop should not return an error, got: %v", err)
		}

		if mock.dropCalls != 0 {
			t.Errorf("cancelled drop must not call Drop, got %d calls", mock.dropCalls)
		}
	})
}

func TestRunValidate(t *testing.T) {
	skipIfNotShort(t)

	if err := runValidate(); err != nil {
		t.Errorf("packaged migrations should validate, got: %v", err)
	}
}

func TestMigrateLoggerVerbose(t *testing.T) {
	skipIfNotShort(t)

	logger := &migrateLogger{}
	if !logger.Verbose() {
		t.Error("migrate logger should report verbose output")
	}
}

func TestMigrateLoggerWrite(t *testing.T) {
	skipIfNotShort(t)

	logger := &migrateLogger{}

	n, err := logger.Write([]byte("dirty database detected"))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if n != len("dirty database detected") {
		t.Errorf("Write should report the full length, got %d", n)
	}
}
