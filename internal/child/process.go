// Package child supervises the worker processes a browser container runs.
// A child's lifetime and the container's are tied together in both
// directions: context cancellation kills the child, and a child exiting
// reports back so the container can shut down.
package child

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"

	"go.uber.org/zap"
)

// Options configures supervision of one child process.
type Options struct {
	// Name prefixes log lines for this child.
	Name string
	// StderrLine, if set, receives every stderr line before it is logged.
	StderrLine func(string)
	Logger     *zap.Logger
}

// Start launches cmd under supervision. When ctx is cancelled the child
// is killed; when the child exits on its own, exited is called with its
// wait error.
func Start(ctx context.Context, cmd *exec.Cmd, exited func(error), opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s stdout pipe: %w", opts.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%s stderr pipe: %w", opts.Name, err)
	}

	logger.Info("Starting child process",
		zap.String("name", opts.Name),
		zap.Strings("args", cmd.Args),
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", opts.Name, err)
	}

	go monitorPipe(stdout, opts.Name+" stdout", nil, logger)
	go monitorPipe(stderr, opts.Name+" stderr", opts.StderrLine, logger)

	go func() {
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
			err := <-done
			logger.Error("Child killed", zap.String("name", opts.Name), zap.Error(err))
		case err := <-done:
			logger.Error("Child exited", zap.String("name", opts.Name), zap.Error(err))
			exited(err)
		}
	}()

	return nil
}

// monitorPipe drains one pipe line by line so the child never blocks on a
// full buffer, logging each line at debug.
func monitorPipe(pipe io.Reader, prefix string, deliver func(string), logger *zap.Logger) {
	sc := bufio.NewScanner(pipe)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if deliver != nil {
			deliver(line)
		}
		logger.Debug(prefix, zap.String("line", line))
	}
	if err := sc.Err(); err != nil {
		logger.Debug("Pipe closed", zap.String("pipe", prefix), zap.Error(err))
	}
}
