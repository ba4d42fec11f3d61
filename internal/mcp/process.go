// File: internal/mcp/process.go
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/config"
)

// UserDataDirPlaceholder in ProcessConfig.Args is replaced by the
// per-instance working directory.
const UserDataDirPlaceholder = "{user_data_dir}"

const stderrTailSize = 8 * 1024

// launchMu serializes process startup. Concurrent npx bootstraps race on the
// shared package cache.
var launchMu sync.Mutex

// ProcessConfig describes the tool server command line and lifecycle timings.
type ProcessConfig struct {
	Command              string
	Args                 []string
	Env                  []string
	StartupGrace         time.Duration
	ShutdownPolls        int
	ShutdownPollInterval time.Duration
}

// ProcessConfigFrom builds the launch command for a Playwright tool server.
func ProcessConfigFrom(cfg config.ToolServerConfig) ProcessConfig {
	args := append([]string{}, cfg.Args...)
	if cfg.Browser != "" {
		args = append(args, "--browser", cfg.Browser)
	}
	if cfg.Headless {
		args = append(args, "--headless")
	}
	if cfg.NoSandbox {
		args = append(args, "--no-sandbox")
	}
	args = append(args, "--user-data-dir", UserDataDirPlaceholder)

	return ProcessConfig{
		Command:              cfg.Command,
		Args:                 args,
		StartupGrace:         cfg.StartupGrace,
		ShutdownPolls:        cfg.ShutdownPolls,
		ShutdownPollInterval: cfg.ShutdownPollInterval,
	}
}

// ProcessTransport is a StreamTransport bound to a child process it owns,
// together with an isolated working directory.
type ProcessTransport struct {
	*StreamTransport

	cfg     ProcessConfig
	cmd     *exec.Cmd
	workDir string
	stderr  *tailBuffer
	logger  *zap.Logger

	exited  chan struct{}
	waitErr error

	shutdownOnce sync.Once
	shutdownErr  error
}

// StartProcess launches the tool server and waits out the startup grace
// period. A process that dies during the grace period yields a *StartupError.
func StartProcess(ctx context.Context, cfg ProcessConfig, logger *zap.Logger) (*ProcessTransport, error) {
	if cfg.Command == "" {
		return nil, errors.New("tool server command is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	workDir, err := os.MkdirTemp("", "wabe-browser-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create tool server working directory: %w", err)
	}

	args := make([]string, len(cfg.Args))
	for i, a := range cfg.Args {
		args[i] = strings.ReplaceAll(a, UserDataDirPlaceholder, workDir)
	}

	// Not CommandContext: the process must outlive a cancelled step and be
	// torn down through Close.
	cmd := exec.Command(cfg.Command, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	// A plain os.Pipe keeps Wait from closing our read end before the pump drains it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr

	p := &ProcessTransport{
		cfg:     cfg,
		cmd:     cmd,
		workDir: workDir,
		stderr:  stderr,
		logger:  logger.Named("toolserver").With(zap.String("work_dir", workDir)),
		exited:  make(chan struct{}),
	}

	launchMu.Lock()
	defer launchMu.Unlock()

	p.logger.Debug("Launching tool server", zap.String("command", cfg.Command), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to start tool server: %w", err)
	}
	stdoutW.Close()

	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	p.StreamTransport = NewStreamTransport(stdoutR, stdin)

	grace := time.NewTimer(cfg.StartupGrace)
	defer grace.Stop()
	select {
	case <-p.exited:
		_ = p.StreamTransport.Close(ctx)
		_ = os.RemoveAll(workDir)
		return nil, &StartupError{ExitErr: p.exitError(), Stderr: stderr.String()}
	case <-ctx.Done():
		_ = p.shutdown()
		return nil, ctx.Err()
	case <-grace.C:
	}

	p.logger.Info("Tool server started", zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

// Alive reports whether the child process is still running.
func (p *ProcessTransport) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// WorkDir returns the per-instance working directory.
func (p *ProcessTransport) WorkDir() string { return p.workDir }

// Stderr returns the tail of the child's standard error.
func (p *ProcessTransport) Stderr() string { return p.stderr.String() }

// WriteLine refuses to write once the child has exited.
func (p *ProcessTransport) WriteLine(ctx context.Context, line []byte) error {
	if !p.Alive() {
		return ErrNotRunning
	}
	return p.StreamTransport.WriteLine(ctx, line)
}

// Close terminates the child's process group: polite signal, bounded
// polling, then kill.
// The working directory is removed on every path.
func (p *ProcessTransport) Close(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown()
	})
	return p.shutdownErr
}

func (p *ProcessTransport) shutdown() error {
	defer func() {
		if err := os.RemoveAll(p.workDir); err != nil {
			p.logger.Warn("Failed to remove tool server working directory", zap.Error(err))
		}
	}()

	if p.Alive() {
		if err := signalGroup(p.cmd.Process, syscall.SIGTERM); err != nil {
			p.logger.Debug("Terminate signal failed, killing", zap.Error(err))
			_ = signalGroup(p.cmd.Process, syscall.SIGKILL)
		}
		if !p.awaitExit() {
			p.logger.Warn("Tool server did not exit after terminate, killing")
			_ = signalGroup(p.cmd.Process, syscall.SIGKILL)
			<-p.exited
		}
	}
	// Browsers launched under the server can outlive it.
	if err := signalGroup(p.cmd.Process, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("Failed to sweep tool server process group", zap.Error(err))
	}

	return p.StreamTransport.Close(context.Background())
}

// awaitExit polls for exit up to the configured number of times.
func (p *ProcessTransport) awaitExit() bool {
	polls := p.cfg.ShutdownPolls
	if polls <= 0 {
		polls = 1
	}
	for i := 0; i < polls; i++ {
		select {
		case <-p.exited:
			return true
		case <-time.After(p.cfg.ShutdownPollInterval):
		}
	}
	return !p.Alive()
}

func (p *ProcessTransport) exitError() error {
	if p.waitErr != nil {
		return p.waitErr
	}
	return errors.New("exit status 0")
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
