package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hailam/chesstuner/internal/metrics"
)

// ProcessFactory starts an external accuracy tester. The process reads one
// JSON command per line on stdin and answers with one JSON line on stdout:
//
//	{"op":"ready"}                               -> {"ok":true}
//	{"op":"run","dataset":"...","request":{...}} -> {"ok":true,"metrics":{...}}
//	{"op":"quit"}
//
// A failed command answers {"ok":false,"error":"..."}. The process lives for
// one whole sweep so its engine is initialized once.
type ProcessFactory struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	// StartTimeout bounds the ready handshake.
	StartTimeout time.Duration
	Logger       *zap.Logger
}

type command struct {
	Op      string   `json:"op"`
	Dataset string   `json:"dataset,omitempty"`
	Request *Request `json:"request,omitempty"`
}

type response struct {
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
	Metrics *metrics.Metrics `json:"metrics,omitempty"`
}

// Open starts the tester process and waits for its ready answer.
func (f *ProcessFactory) Open(ctx context.Context) (Tester, error) {
	if f.Command == "" {
		return nil, errors.New("no accuracy tester command configured")
	}
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.Command(f.Command, f.Args...)
	cmd.Dir = f.Dir
	if len(f.Env) > 0 {
		cmd.Env = f.Env
	}
	cmd.Stderr = zap.NewStdLog(logger.Named("tester")).Writer()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start accuracy tester: %w", err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		logger: logger,
	}

	timeout := f.StartTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := p.roundTrip(readyCtx, command{Op: "ready"}); err != nil {
		p.kill()
		return nil, fmt.Errorf("accuracy tester handshake: %w", err)
	}
	logger.Info("Accuracy tester started", zap.String("command", f.Command), zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

// process is a running tester subprocess.
type process struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger *zap.Logger
	closed bool
}

func (p *process) Run(ctx context.Context, dataset string, req Request) (metrics.Metrics, error) {
	resp, err := p.roundTrip(ctx, command{Op: "run", Dataset: dataset, Request: &req})
	if err != nil {
		return metrics.Metrics{}, err
	}
	if resp.Metrics == nil {
		return metrics.Metrics{}, errors.New("accuracy tester answered without metrics")
	}
	return *resp.Metrics, nil
}

type readResult struct {
	line []byte
	err  error
}

func (p *process) roundTrip(ctx context.Context, c command) (response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return response{}, errors.New("accuracy tester is closed")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return response{}, err
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return response{}, fmt.Errorf("write to accuracy tester: %w", err)
	}

	ch := make(chan readResult, 1)
	go func() {
		line, err := p.stdout.ReadBytes('\n')
		ch <- readResult{line: line, err: err}
	}()

	var r readResult
	select {
	case r = <-ch:
	case <-ctx.Done():
		// the reader only returns once the process is gone
		p.killLocked()
		<-ch
		return response{}, ctx.Err()
	}
	if r.err != nil {
		return response{}, fmt.Errorf("read from accuracy tester: %w", r.err)
	}

	var resp response
	if err := json.Unmarshal(r.line, &resp); err != nil {
		return response{}, fmt.Errorf("decode accuracy tester answer: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("accuracy tester: %s", resp.Error)
	}
	return resp, nil
}

// Close asks the process to quit and waits for it, killing it if it lingers.
func (p *process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	data, _ := json.Marshal(command{Op: "quit"})
	_, _ = p.stdin.Write(append(data, '\n'))
	_ = p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		p.logger.Warn("Accuracy tester did not exit, killing it")
		_ = p.cmd.Process.Kill()
		<-done
		return nil
	}
}

func (p *process) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked()
}

func (p *process) killLocked() {
	if p.closed {
		return
	}
	p.closed = true
	_ = p.stdin.Close()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
}
