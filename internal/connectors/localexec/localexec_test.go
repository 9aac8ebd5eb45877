package localexec

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It is re-executed by the tests
// below to stand in for the Arduino CLI.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("EXINSTALLER_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	args = args[1:]
	switch args[0] {
	case "echo":
		fmt.Fprint(os.Stdout, strings.Join(args[1:], " "))
	case "fail":
		fmt.Fprint(os.Stderr, `{"error":"bad board"}`)
		os.Exit(3)
	case "sleep":
		time.Sleep(5 * time.Second)
	}
	os.Exit(0)
}

func helperArgs(args ...string) []string {
	return append([]string{"-test.run=TestHelperProcess", "--"}, args...)
}

func TestIsAllowed(t *testing.T) {
	exec := New("")

	tests := []struct {
		cmd     string
		args    []string
		allowed bool
	}{
		{"arduino-cli", []string{"version", "--format", "jsonmini"}, true},
		{"/home/u/ex-installer/arduino-cli/arduino-cli", []string{"core", "list"}, true},
		{"arduino-cli", []string{"board", "list"}, true},
		{"arduino-cli", []string{"compile", "-b", "arduino:avr:mega", "."}, true},
		{"arduino-cli", []string{"upload", "-p", "/dev/ttyUSB0"}, true},
		{"arduino-cli", []string{"daemon"}, false},
		{"arduino-cli", []string{"burn-bootloader"}, false},
		{"arduino-cli", []string{}, false},
		{"", []string{"version"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.cmd+" "+strings.Join(tt.args, " "), func(t *testing.T) {
			got := exec.IsAllowed(tt.cmd, tt.args)
			if got != tt.allowed {
				t.Errorf("IsAllowed(%s, %v) = %v, want %v", tt.cmd, tt.args, got, tt.allowed)
			}
		})
	}
}

func TestExecute_NotAllowed(t *testing.T) {
	exec := New("")

	_, err := exec.Execute(context.Background(), "arduino-cli", []string{"daemon"})
	if err == nil {
		t.Error("Expected error for non-allowed subcommand")
	}
}

func TestRun_CapturesOutput(t *testing.T) {
	t.Setenv("EXINSTALLER_HELPER_PROCESS", "1")
	exec := New("")

	result, err := exec.run(context.Background(), os.Args[0], helperArgs("echo", `{"success":true}`))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
	if string(result.Stdout) != `{"success":true}` {
		t.Errorf("Unexpected stdout %q", result.Stdout)
	}
}

func TestRun_ExitCode(t *testing.T) {
	t.Setenv("EXINSTALLER_HELPER_PROCESS", "1")
	exec := New("")

	result, err := exec.run(context.Background(), os.Args[0], helperArgs("fail"))
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(string(result.Stderr), "bad board") {
		t.Errorf("Expected stderr to be captured, got %q", result.Stderr)
	}
}

func TestRun_DeadlineKillsProcess(t *testing.T) {
	t.Setenv("EXINSTALLER_HELPER_PROCESS", "1")
	exec := New("")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := exec.run(ctx, os.Args[0], helperArgs("sleep"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("process was not terminated at the deadline, ran %v", elapsed)
	}
	if result.ExitCode == 0 {
		t.Error("Expected a killed process to report a non-zero exit code")
	}
}

func TestRun_MissingBinary(t *testing.T) {
	exec := New("")

	_, err := exec.run(context.Background(), "/nonexistent/arduino-cli", []string{"version"})
	if err == nil {
		t.Error("Expected launch error for missing binary")
	}
}

func TestName(t *testing.T) {
	exec := New("")
	if exec.Name() != "localexec" {
		t.Errorf("Expected name 'localexec', got %s", exec.Name())
	}
}
