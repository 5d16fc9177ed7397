package staterequest

import "context"

// PersistenceStage marks which side of a hook invocation a
// HookPersistenceFunc is being called for.
type PersistenceStage string

const (
	StageBeforeHook PersistenceStage = "BEFORE_HOOK"
	StageAfterHook  PersistenceStage = "AFTER_HOOK"
)

// HookPersistenceFunc optionally loads state before a hook runs and
// stores it after. A non-nil returned map from the BEFORE_HOOK stage is
// merged into buffer state by property assignment.
type HookPersistenceFunc func(ctx context.Context, stage PersistenceStage, bufferSnapshot map[string]any, execCtx ExecutionContext, params any) (map[string]any, error)

// HookRunnerConfig configures a HookRunner.
type HookRunnerConfig struct {
	Buffer          Buffer
	LoadBeforeHooks bool
	StoreAfterHooks bool
	Persistence     HookPersistenceFunc
	Logger          Logger
}

// HookTransactionOptions names one hook invocation for logging purposes.
// Zero-value Activity/HookName fall back to sensible defaults.
type HookTransactionOptions struct {
	Activity   string
	HookName   string
	HookParams any
}

func (o HookTransactionOptions) withDefaults() HookTransactionOptions {
	if o.Activity == "" {
		o.Activity = "hook"
	}
	if o.HookName == "" {
		o.HookName = "anonymous-hook"
	}
	return o
}

// HookRunner executes a user hook inside a buffer transaction, optionally
// loading persisted state before and storing after. This is
// the typed replacement for the source's leaky idiom of rewriting
// commonBuffer/sharedBuffer/buffer keys inside a hook's own options
// object — callers get the live state map directly as the fn argument.
type HookRunner struct {
	cfg HookRunnerConfig
}

// NewHookRunner builds a HookRunner over cfg.
func NewHookRunner(cfg HookRunnerConfig) *HookRunner {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &HookRunner{cfg: cfg}
}

// Run invokes fn inside a buffer transaction: optionally loading
// persisted state before, always running fn against the live buffer, and
// optionally storing persisted state after on success. fn receives the
// live buffer state map so it can read or mutate shared state directly.
func (r *HookRunner) Run(ctx context.Context, opts HookTransactionOptions, execCtx ExecutionContext, fn func(ctx context.Context, buf map[string]any) (any, error)) (any, error) {
	opts = opts.withDefaults()

	return r.cfg.Buffer.Run(ctx, func(state map[string]any) (any, error) {
		if r.cfg.LoadBeforeHooks && r.cfg.Persistence != nil {
			snapshot := cloneState(state)
			loaded, err := r.cfg.Persistence(ctx, StageBeforeHook, snapshot, execCtx, opts.HookParams)
			if err != nil {
				r.cfg.Logger.Warn("hook runner BEFORE_HOOK persistence failed", "hook", opts.HookName, "error", err)
			} else {
				for k, v := range loaded {
					state[k] = v
				}
			}
		}

		value, err := fn(ctx, state)
		if err != nil {
			// Step 3 failures propagate to the caller unmodified.
			return value, err
		}

		if r.cfg.StoreAfterHooks && r.cfg.Persistence != nil {
			snapshot := cloneState(state)
			if _, storeErr := r.cfg.Persistence(ctx, StageAfterHook, snapshot, execCtx, opts.HookParams); storeErr != nil {
				r.cfg.Logger.Warn("hook runner AFTER_HOOK persistence failed", "hook", opts.HookName, "error", storeErr)
			}
		}

		return value, nil
	}, RunOptions{Activity: opts.Activity, HookName: opts.HookName, HookParams: opts.HookParams})
}
