package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/livenode/internal/logging"
)

// LogParser parses a log line and returns the log level and message.
// FFmpeg stderr is parsed with ffmpeg.ParseLogLevel.
type LogParser func(line string) (slog.Level, string)

// Options tune a Process.
type Options struct {
	// LogParser extracts levels from stderr lines (nil logs everything at info).
	LogParser LogParser
	// OutputLogger receives stderr lines. Defaults to the process logger.
	OutputLogger logging.Logger
	// GracefulTimeout bounds the wait after SIGINT before SIGKILL.
	GracefulTimeout time.Duration
	// KillTimeout bounds the wait after SIGKILL.
	KillTimeout time.Duration
	// NoStdin leaves the child's stdin unconnected.
	NoStdin bool
}

// Process is a running child with binary stdin/stdout pipes.
type Process struct {
	command string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	logger  logging.Logger
	opts    Options

	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
	stderrWG sync.WaitGroup
}

// Start parses command, launches it and begins streaming its stderr.
// Cancelling ctx kills the child.
func Start(ctx context.Context, command string, logger logging.Logger, opts ...Options) (*Process, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.GracefulTimeout == 0 {
		o.GracefulTimeout = 3 * time.Second
	}
	if o.KillTimeout == 0 {
		o.KillTimeout = 2 * time.Second
	}

	p := &Process{
		command: command,
		logger:  logger,
		opts:    o,
		done:    make(chan struct{}),
	}

	p.cmd = exec.CommandContext(ctx, args[0], args[1:]...)
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	p.cmd.Cancel = func() error { return p.signalGroup(syscall.SIGKILL) }

	if !o.NoStdin {
		if p.stdin, err = p.cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	}
	// stdout is an os.Pipe owned by us so Wait cannot close it while the
	// caller is still draining buffered output.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	p.stdout = pr
	p.cmd.Stdout = pw
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", args[0], err)
	}
	_ = pw.Close()
	logger.Debug("Process started", "pid", p.cmd.Process.Pid, "command", command)

	p.stderrWG.Add(1)
	go func() {
		defer p.stderrWG.Done()
		p.streamStderr(stderr)
	}()

	go func() {
		// Wait must not run before stderr is fully read.
		p.stderrWG.Wait()
		p.waitErr = p.cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// Command returns the command line the process was started with.
func (p *Process) Command() string { return p.command }

// Pid returns the child process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Stdin returns the child's stdin, or nil when started with NoStdin.
func (p *Process) Stdin() io.Writer {
	if p.stdin == nil {
		return nil
	}
	return p.stdin
}

// Stdout returns the child's stdout. It reports io.EOF once the child has
// exited and all output has been read.
func (p *Process) Stdout() io.Reader { return p.stdout }

// CloseStdout releases the read end of stdout.
func (p *Process) CloseStdout() error { return p.stdout.Close() }

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error after Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// CloseStdin signals end of input to the child.
func (p *Process) CloseStdin() error {
	if p.stdin == nil {
		return nil
	}
	return p.stdin.Close()
}

// Stop ends the child: stdin is closed, then SIGINT, then SIGKILL once the
// graceful timeout passes. Returns the exit code. Safe to call repeatedly.
func (p *Process) Stop() int {
	p.stopOnce.Do(func() {
		_ = p.CloseStdin()
		select {
		case <-p.done:
			return
		case <-time.After(50 * time.Millisecond):
		}
		p.sendStopSignal()
		p.waitForExit()
	})
	return exitCodeFromError(p.Err())
}

// sendStopSignal sends SIGINT to the subprocess without waiting.
func (p *Process) sendStopSignal() {
	if p.cmd.Process == nil {
		return
	}
	if err := p.signalGroup(syscall.SIGINT); err != nil {
		p.logger.Warn("Failed to send SIGINT", "error", err)
	}
}

// signalGroup signals the child's whole process group. Children of a shell
// wrapper hold the stderr pipe open, so signalling only the leader is not
// enough for the process to finish.
func (p *Process) signalGroup(sig syscall.Signal) error {
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// waitForExit waits for the graceful timeout and force-kills after it.
func (p *Process) waitForExit() {
	select {
	case <-p.done:
		return
	case <-time.After(p.opts.GracefulTimeout):
	}
	p.logger.Warn("Graceful shutdown timeout, forcing kill", "timeout", p.opts.GracefulTimeout)
	if err := p.signalGroup(syscall.SIGKILL); err != nil {
		p.logger.Error("Failed to kill process", "error", err)
	}
	select {
	case <-p.done:
	case <-time.After(p.opts.KillTimeout):
		p.logger.Error("Process did not exit after kill signal")
	}
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

func (p *Process) streamStderr(r io.Reader) {
	logger := p.opts.OutputLogger
	if logger == nil {
		logger = p.logger
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		level, msg := slog.LevelInfo, line
		if p.opts.LogParser != nil {
			level, msg = p.opts.LogParser(line)
		}
		switch {
		case level >= slog.LevelError:
			logger.Error(msg)
		case level >= slog.LevelWarn:
			logger.Warn(msg)
		case level >= slog.LevelInfo:
			logger.Info(msg)
		default:
			logger.Debug(msg)
		}
	}
}

// parseCommand splits a command string into arguments, honoring single and
// double quotes and backslash escapes.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}
	return args, nil
}
