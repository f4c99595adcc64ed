package gk

import "github.com/grapevine-net/grapevine/gvpeer"

// CommandRequest is one line of user input for the kernel to execute.
type CommandRequest struct {
	Line string

	// Resp receives the command's outcome.
	// It must be buffered so the kernel never blocks on a reply.
	Resp chan CommandResult
}

// CommandResult is the direct outcome of one command.
//
// Output is ready for display and may be empty
// (a listing with nothing to list).
// Commands that trigger network round trips return immediately;
// whatever comes back later surfaces on the output feed instead.
type CommandResult struct {
	Output string
	Err    error
}

// dialResult reports the outcome of one dial attempt
// back to the kernel goroutine.
//
// A successful dial carries no connection:
// the transport announces it through the changes feed,
// keeping a single admission path for inbound and outbound alike.
type dialResult struct {
	Peer gvpeer.ID
	Err  error
}
