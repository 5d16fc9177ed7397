package staterequest

// ReplayHandler applies one recorded transaction's effect to state,
// rebuilding what the original hook body would have done. Handlers are
// looked up by TransactionLog.HookName (falling back to Activity), since
// the original closures are not serializable.
type ReplayHandler func(state map[string]any, entry TransactionLog) error

// ReplayOptions configures ReplayStableBufferTransactions.
type ReplayOptions struct {
	// Dedupe filters out entries whose TransactionID has already been
	// applied earlier in the same logs slice.
	Dedupe bool
}

// ReplayResult reports what ReplayStableBufferTransactions did with each
// input entry.
type ReplayResult struct {
	Applied int
	Skipped int
	Errors  []error
}

// ReplayStableBufferTransactions applies logs, in order, to a fresh
// buffer using handlers keyed by hook/activity name. This
// reproduces the terminal state modulo non-deterministic handler side
// effects; entries with no matching handler are counted as skipped, not
// errored, since a partial handler set is a normal replay scenario (e.g.
// replaying only the hooks relevant to one subsystem).
func ReplayStableBufferTransactions(buffer Buffer, logs []TransactionLog, handlers map[string]ReplayHandler, opts ReplayOptions) ReplayResult {
	result := ReplayResult{}
	seen := make(map[string]bool, len(logs))

	for _, entry := range logs {
		if opts.Dedupe {
			if seen[entry.TransactionID] {
				result.Skipped++
				continue
			}
			seen[entry.TransactionID] = true
		}

		handler := lookupReplayHandler(handlers, entry)
		if handler == nil {
			result.Skipped++
			continue
		}

		state := buffer.GetState()
		if err := handler(state, entry); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		buffer.SetState(state)
		result.Applied++
	}

	return result
}

func lookupReplayHandler(handlers map[string]ReplayHandler, entry TransactionLog) ReplayHandler {
	if entry.HookName != "" {
		if h, ok := handlers[entry.HookName]; ok {
			return h
		}
	}
	if entry.Activity != "" {
		if h, ok := handlers[entry.Activity]; ok {
			return h
		}
	}
	return nil
}
