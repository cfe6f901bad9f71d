// Package sandbox runs untrusted Starlark code in a separate OS process.
//
// A Session owns a capability store and a security policy. Each call to
// Session.Run takes a snapshot of the store, spawns a worker (the current
// executable re-executed with MINISANDBOX_WORKER=1), sends it an
// ExecutionRequest and waits for exactly one Result. Tools registered on the
// session run in the supervisor; the worker reaches them over its pipes.
// Workers that miss their deadline are killed together with their process
// group.
//
// Binaries that create sessions must call Init before anything else:
//
//	func main() {
//	    if sandbox.Init() {
//	        return
//	    }
//	    session, err := sandbox.NewSession(logger, &sandbox.Config{})
//	    _ = session.AddVariable("user_name", "Alice")
//	    res, err := session.Run(ctx, `_result = "hi " + user_name`)
//	}
package sandbox
