package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/isdmx/minisandbox/capability"
)

const (
	// workerEnv marks a process spawned as a sandbox worker
	workerEnv = "MINISANDBOX_WORKER"

	// resultFD is the worker's end of the result channel (first ExtraFiles entry)
	resultFD = 3

	// orphanGrace is how long a worker outlives its deadline before exiting
	// on its own, in case its supervisor is gone
	orphanGrace = 5 * time.Second
)

// Worker exit codes
const (
	exitOK       = 0
	exitProtocol = 2
	exitOrphaned = 3
)

// Init turns the current process into a sandbox worker when it was spawned
// as one: it serves exactly one request and exits. Otherwise it returns
// false immediately. Call it first thing in main, and in TestMain of any
// package that runs a Session against the test binary.
func Init() bool {
	if os.Getenv(workerEnv) != "1" {
		return false
	}

	results := os.NewFile(resultFD, "results")
	if results == nil {
		fmt.Fprintln(os.Stderr, "sandbox worker: result channel missing")
		os.Exit(exitProtocol)
	}

	err := serve(os.Stdin, results, func(req ExecutionRequest) {
		if req.Timeout > 0 {
			time.AfterFunc(req.Timeout+orphanGrace, func() {
				os.Exit(exitOrphaned)
			})
		}
		if limitErr := applyLimits(req.Limits); limitErr != nil {
			fmt.Fprintf(os.Stderr, "sandbox worker: %v\n", limitErr)
		}
	})
	_ = results.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox worker: %v\n", err)
		os.Exit(exitProtocol)
	}
	os.Exit(exitOK)
	return true
}

// ServeWorker reads one ExecutionRequest from in, executes it and writes the
// result frame to out. Tool calls are sent on out and answered on in.
func ServeWorker(in io.Reader, out io.Writer) error {
	return serve(in, out, nil)
}

func serve(in io.Reader, out io.Writer, onRequest func(ExecutionRequest)) error {
	dec := newDecoder(in)
	enc := newEncoder(out)

	var req ExecutionRequest
	if err := dec.Decode(&req); err != nil {
		res := Result{Error: fmt.Sprintf("failed to decode request: %v", err), Status: StatusError}
		_ = enc.Encode(frame{Result: &res})
		return fmt.Errorf("failed to decode request: %w", err)
	}
	if onRequest != nil {
		onRequest(req)
	}

	res := Execute(req, &workerLink{enc: enc, dec: dec})
	if err := enc.Encode(frame{Result: &res}); err != nil {
		return fmt.Errorf("failed to send result: %w", err)
	}
	return nil
}

// workerLink forwards tool calls to the supervisor and waits for replies
type workerLink struct {
	enc  *cbor.Encoder
	dec  *cbor.Decoder
	next uint64
}

func (l *workerLink) Invoke(call capability.Call) (any, string, error) {
	l.next++
	id := l.next

	if err := l.enc.Encode(frame{Call: &toolCall{ID: id, Call: call}}); err != nil {
		return nil, "", fmt.Errorf("failed to send tool call: %w", err)
	}

	var reply toolReply
	if err := l.dec.Decode(&reply); err != nil {
		return nil, "", fmt.Errorf("failed to receive tool reply: %w", err)
	}
	if reply.ID != id {
		return nil, "", fmt.Errorf("tool reply out of order: got %d, want %d", reply.ID, id)
	}
	if reply.Error != "" {
		return nil, reply.Logs, errors.New(reply.Error)
	}
	return reply.Value, reply.Logs, nil
}
