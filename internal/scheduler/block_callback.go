// Package scheduler runs callbacks on block intervals.
package scheduler

import "github.com/rs/zerolog/log"

// NewBlockCallback creates a new BlockCallback that triggers every N blocks
func NewBlockCallback(interval int, execute func(block int) error) *BlockCallback {
	if interval <= 0 {
		interval = 1
	}
	return &BlockCallback{
		LastTriggerAtBlock: -1,
		interval:           interval,
		executeFn:          execute,
	}
}

// ShouldTrigger reports whether interval blocks have passed since the last
// successful run. A callback that never ran triggers immediately.
func (bc *BlockCallback) ShouldTrigger(block int) bool {
	if bc.LastTriggerAtBlock < 0 {
		return true
	}
	return block-bc.LastTriggerAtBlock >= bc.interval
}

// Execute runs the callback and updates the last trigger block
func (bc *BlockCallback) Execute(block int) error {
	if err := bc.executeFn(block); err != nil {
		// failed executions retry on the next check
		return err
	}
	bc.LastTriggerAtBlock = block
	return nil
}

// GetName returns the callback name
func (bc *BlockCallback) GetName() string {
	return InferNameFromFunc(bc.executeFn)
}

// RunDue executes every handler due at block, logging failures.
func RunDue(block int, handlers ...CallbackHandler) []error {
	var errs []error
	for _, h := range handlers {
		if !h.ShouldTrigger(block) {
			continue
		}
		if err := h.Execute(block); err != nil {
			log.Error().Err(err).Str("callback", h.GetName()).Int("block", block).Msg("Scheduled callback failed, will retry")
			errs = append(errs, err)
			continue
		}
		log.Debug().Str("callback", h.GetName()).Int("block", block).Msg("Scheduled callback executed")
	}
	return errs
}
