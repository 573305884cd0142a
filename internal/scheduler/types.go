package scheduler

// BlockCallback is a callback that triggers every N blocks
// WARN: if the caller checks infrequently, a callback whose interval elapsed
// several times over still runs once, not once per missed interval.
type BlockCallback struct {
	LastTriggerAtBlock int
	// interval is the number of blocks between triggers
	interval  int
	executeFn func(block int) error
}

type CallbackHandler interface {
	// Determines if the callback should trigger at the current block
	ShouldTrigger(block int) bool
	// Executes the callback logic and returns an error if it fails
	Execute(block int) error
	// Returns the name of the callback, which may be inferred from the function name
	GetName() string
}
