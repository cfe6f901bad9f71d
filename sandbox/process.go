package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/isdmx/minisandbox/capability"
)

const (
	// maxStderrBytes caps what is kept of a worker's stderr
	maxStderrBytes = 64 * BytesPerKB

	// exitGrace is how long a worker may take to exit after sending its result
	exitGrace = 2 * time.Second
)

// worker is one spawned worker process and its pipes
type worker struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	results *os.File
	stderr  *bytes.Buffer
	enc     *cbor.Encoder
	dec     *cbor.Decoder

	waitOnce sync.Once
	waitErr  error
}

func (s *Session) startWorker() (*worker, error) {
	path, args, err := s.workerCommand()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...) //nolint:gosec // Worker binary comes from configuration
	cmd.Dir = s.config.WorkDir
	cmd.Env = buildEnv(s.config.WorkDir)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	resultsR, resultsW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("failed to create result channel: %w", err)
	}
	cmd.ExtraFiles = []*os.File{resultsW}

	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, remaining: maxStderrBytes}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = resultsR.Close()
		_ = resultsW.Close()
		return nil, err
	}
	// Only the worker may hold the write end, so its exit closes the channel.
	_ = resultsW.Close()

	return &worker{
		cmd:     cmd,
		stdin:   stdin,
		results: resultsR,
		stderr:  &stderr,
		enc:     newEncoder(stdin),
		dec:     newDecoder(resultsR),
	}, nil
}

func (s *Session) workerCommand() (string, []string, error) {
	if s.config.WorkerPath != "" {
		return s.config.WorkerPath, s.config.WorkerArgs, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("failed to locate worker executable: %w", err)
	}
	return self, s.config.WorkerArgs, nil
}

// buildEnv constructs the worker environment. Nothing is inherited from the
// supervisor.
func buildEnv(workDir string) []string {
	home := workDir
	if home == "" {
		home = os.TempDir()
	}
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + home,
		"TMPDIR=" + os.TempDir(),
		"LANG=en_US.UTF-8",
		workerEnv + "=1",
	}
}

// wait reaps the worker once and closes the supervisor's end of the
// result channel
func (w *worker) wait() error {
	w.waitOnce.Do(func() {
		w.waitErr = w.cmd.Wait()
		_ = w.results.Close()
	})
	return w.waitErr
}

func (w *worker) kill() {
	_ = killProcessGroup(w.cmd)
}

// finish lets a worker that has delivered its result exit, killing it if it
// lingers
func (w *worker) finish() error {
	_ = w.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- w.wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(exitGrace):
		w.kill()
		return <-done
	}
}

// supervise runs req in a new worker and enforces its deadline
func (s *Session) supervise(ctx context.Context, logger *zap.Logger, req ExecutionRequest, tools map[string]capability.Tool) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	w, err := s.startWorker()
	if err != nil {
		return Result{}, fmt.Errorf("failed to start worker: %w", err)
	}
	pid := w.cmd.Process.Pid
	logger.Debug("worker started", zap.Int("pid", pid))
	if s.onSpawn != nil {
		s.onSpawn(pid)
	}

	results := make(chan Result, 1)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pump(runCtx, logger, w, req, tools, results)
	}()

	var res Result
	select {
	case res = <-results:
		if err := w.finish(); err != nil {
			logger.Debug("worker exited after result", zap.Error(err))
		}
		<-pumpDone
	case <-pumpDone:
		select {
		case res = <-results:
			_ = w.finish()
		default:
			exitErr := w.finish()
			res = Result{Error: "worker exited without a result", Status: StatusNoResult}
			if exitErr != nil {
				res.Error = fmt.Sprintf("worker exited without a result: %v", exitErr)
			}
			logger.Warn("worker produced no result",
				zap.Error(exitErr),
				zap.String("stderr", w.stderr.String()))
		}
	case <-runCtx.Done():
		w.kill()
		_ = w.wait()
		awaitPump(logger, pumpDone)
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("run cancelled: %w", ctx.Err())
		}
		logger.Warn("sandbox run timed out, worker killed", zap.Duration("timeout", req.Timeout))
		res = Result{Error: fmt.Sprintf("execution timed out after %s", req.Timeout), Status: StatusTimedOut}
	}

	if w.stderr.Len() > 0 {
		logger.Debug("worker stderr", zap.String("stderr", w.stderr.String()))
	}
	return res, nil
}

// awaitPump gives a tool call still in flight after the worker was killed
// up to exitGrace to return, so it does not outlive the run.
func awaitPump(logger *zap.Logger, pumpDone <-chan struct{}) {
	select {
	case <-pumpDone:
	case <-time.After(exitGrace):
		logger.Warn("tool call still running after the worker was killed", zap.Duration("grace", exitGrace))
	}
}

// pump sends the request to the worker and serves its tool calls until the
// result frame arrives or the result channel closes
func (s *Session) pump(ctx context.Context, logger *zap.Logger, w *worker, req ExecutionRequest, tools map[string]capability.Tool, results chan<- Result) {
	if err := w.enc.Encode(req); err != nil {
		logger.Warn("failed to send request to worker", zap.Error(err))
		return
	}

	for {
		var f frame
		if err := w.dec.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("result channel closed", zap.Error(err))
			}
			return
		}

		switch {
		case f.Result != nil:
			results <- *f.Result
			return
		case f.Call != nil:
			reply := s.invokeTool(ctx, logger, tools, *f.Call)
			if err := w.enc.Encode(reply); err != nil {
				logger.Warn("failed to send tool reply", zap.String("tool", f.Call.Call.Name), zap.Error(err))
				return
			}
		default:
			logger.Warn("ignoring empty frame from worker")
		}
	}
}

// invokeTool runs a host tool on behalf of the worker. Panics and
// unencodable values become tool errors.
func (s *Session) invokeTool(ctx context.Context, logger *zap.Logger, tools map[string]capability.Tool, tc toolCall) (reply toolReply) {
	name := tc.Call.Name
	reply.ID = tc.ID

	fn, ok := tools[name]
	if !ok {
		reply.Error = fmt.Sprintf("unknown tool %q", name)
		return reply
	}

	var logs bytes.Buffer
	var callErr error
	defer func() {
		if r := recover(); r != nil {
			callErr = fmt.Errorf("tool %s panicked: %v", name, r)
			reply.Value = nil
		}
		if callErr != nil {
			reply.Error = callErr.Error()
		}
		reply.Logs = logs.String()
		s.observer.ObserveToolCall(name, callErr)
		logger.Debug("tool called", zap.String("tool", name), zap.Error(callErr))
	}()

	value, err := fn(capability.WithLogWriter(ctx, &logs), tc.Call)
	if err != nil {
		callErr = err
		return reply
	}
	if _, err := encMode.Marshal(value); err != nil {
		callErr = fmt.Errorf("tool %s returned an unencodable value: %w", name, err)
		return reply
	}
	reply.Value = value
	return reply
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded. A non-positive limit means unlimited.
type limitedWriter struct {
	w         io.Writer
	remaining int
	unlimited bool
}

func newLimitedWriter(w io.Writer, limit int) *limitedWriter {
	return &limitedWriter{w: w, remaining: limit, unlimited: limit <= 0}
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.unlimited {
		return lw.w.Write(p)
	}
	if lw.remaining <= 0 {
		return len(p), nil
	}
	n := len(p)
	if n > lw.remaining {
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
