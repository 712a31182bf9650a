package instrument

import (
	"context"

	"witnessd/internal/events"
	"witnessd/internal/problog"
	"witnessd/internal/tracker"
)

// Reinstrument removes every BytecodeChange and AddedExceptionHandler
// attributed to a probe ID in remove from log, notifying the tracker
// so freed IDs return to the allocator's free list.
//
// For an INSERT change this deletes the instruction range; for
// CALL_INTERCEPT/FIELD_INTERCEPT it restores the original instruction
// recorded in the change's InterceptRecord. At this package's
// abstraction level, "restoring" and "deleting" are recorded as the
// absence of the change from the log rather than literal byte
// surgery, which is the bytecode-writing library's responsibility.
func Reinstrument(ctx context.Context, log *problog.ClassLog, observer tracker.Observer, remove map[int]struct{}) error {
	for _, m := range log.MethodLogs {
		var removedHandlerIDs []int
		for _, h := range m.HandlerLog {
			if _, drop := remove[h.ProbeID]; drop {
				removedHandlerIDs = append(removedHandlerIDs, h.ProbeID)
			}
		}
		removedChanges := m.RemoveChanges(remove)
		codes := map[int]events.Code{}
		for _, c := range removedChanges {
			codes[c.ID] = c.EventCode
			if err := observer.ProbeRemoved(ctx, c.ID, c.EventCode); err != nil {
				return err
			}
		}
		for _, id := range removedHandlerIDs {
			if err := observer.ProbeRemoved(ctx, id, codes[id]); err != nil {
				return err
			}
		}
	}
	return nil
}
