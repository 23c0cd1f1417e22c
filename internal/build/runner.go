package build

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// runCommand executes the build command through a shell, streaming every
// output line to onLine as it appears. Stderr is merged into stdout so the
// log stream preserves the interleaving a developer would see locally.
func runCommand(ctx context.Context, command, dir string, onLine func(string)) error {
	if command == "" {
		return fmt.Errorf("build command cannot be empty")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("open build output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return fmt.Errorf("start build command: %w", err)
	}
	// The parent's write end must close so the scanner sees EOF when the
	// command exits.
	pw.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	scanErr := scanner.Err()
	pr.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("build command failed: %w", err)
	}
	if scanErr != nil {
		return fmt.Errorf("read build output: %w", scanErr)
	}
	return nil
}
