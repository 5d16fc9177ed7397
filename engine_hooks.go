package staterequest

import "context"

// runPreExecutionHook executes the once-only pre-execution hook through
// the hook runner, giving it the live buffer state as CommonBuffer.
func (e *Engine) runPreExecutionHook(ctx context.Context, opts RequestOptions, d RequestDescriptor, execCtx ExecutionContext, logs []TransactionLog) (*PreExecutionResult, error) {
	raw, err := e.hookRunner.Run(ctx, HookTransactionOptions{
		Activity:   "hook",
		HookName:   "preExecutionHook",
		HookParams: opts.HookParams,
	}, execCtx, func(ctx context.Context, buf map[string]any) (any, error) {
		return opts.PreExecutionHook(ctx, PreExecutionInput{
			InputParams:          d,
			CommonBuffer:         buf,
			StableRequestOptions: opts,
			TransactionLogs:      logs,
		})
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	result, _ := raw.(*PreExecutionResult)
	return result, nil
}

// runResponseAnalyzer executes the per-attempt response analyzer through
// the hook runner.
func (e *Engine) runResponseAnalyzer(ctx context.Context, opts RequestOptions, d RequestDescriptor, attempt AttemptResult, execCtx ExecutionContext, logs []TransactionLog) (bool, error) {
	raw, err := e.hookRunner.Run(ctx, HookTransactionOptions{
		Activity:   "hook",
		HookName:   "responseAnalyzer",
		HookParams: opts.HookParams,
	}, execCtx, func(ctx context.Context, buf map[string]any) (any, error) {
		return opts.ResponseAnalyzer(ctx, ResponseAnalyzerInput{
			ReqData:          d,
			Data:             attempt.Data,
			TrialMode:        opts.TrialMode,
			Params:           opts.HookParams,
			CommonBuffer:     buf,
			ExecutionContext: execCtx,
			TransactionLogs:  logs,
		})
	})
	if err != nil {
		return false, err
	}
	accept, _ := raw.(bool)
	return accept, nil
}

// runHandleErrors executes the observability hook for a failed/rejected
// attempt. Its own failures are logged and swallowed by the hook runner's
// contract for steps 1/4 only — step 3 (this call) would normally
// propagate, so this wrapper absorbs the error itself to honor the
// "logged, swallowed" handling used throughout the hook contract.
func (e *Engine) runHandleErrors(ctx context.Context, opts RequestOptions, d RequestDescriptor, entry ErrorLogEntry, execCtx ExecutionContext) {
	_, err := e.hookRunner.Run(ctx, HookTransactionOptions{
		Activity:   "hook",
		HookName:   "handleErrors",
		HookParams: opts.HookParams,
	}, execCtx, func(ctx context.Context, buf map[string]any) (any, error) {
		return nil, opts.HandleErrors(ctx, HandleErrorsInput{
			ReqData:              d,
			ErrorLog:             entry,
			MaxSerializableChars: opts.MaxSerializableChars,
			Params:               opts.HookParams,
		})
	})
	if err != nil {
		opts.Logger.Warn("handleErrors hook failed", "error", err)
	}
}

// runHandleSuccessfulAttemptData executes the observability hook for an
// accepted attempt, swallowing its own failures the same way.
func (e *Engine) runHandleSuccessfulAttemptData(ctx context.Context, opts RequestOptions, d RequestDescriptor, entry SuccessLogEntry, execCtx ExecutionContext) {
	_, err := e.hookRunner.Run(ctx, HookTransactionOptions{
		Activity:   "hook",
		HookName:   "handleSuccessfulAttemptData",
		HookParams: opts.HookParams,
	}, execCtx, func(ctx context.Context, buf map[string]any) (any, error) {
		return nil, opts.HandleSuccessfulAttemptData(ctx, HandleSuccessfulAttemptDataInput{
			ReqData:               d,
			SuccessfulAttemptData: entry,
			Params:                opts.HookParams,
		})
	})
	if err != nil {
		opts.Logger.Warn("handleSuccessfulAttemptData hook failed", "error", err)
	}
}

// runFinalErrorAnalyzer executes the once-only final error analyzer after
// the attempt loop ends in failure.
func (e *Engine) runFinalErrorAnalyzer(ctx context.Context, opts RequestOptions, d RequestDescriptor, state *attemptState, execCtx ExecutionContext) (bool, error) {
	raw, err := e.hookRunner.Run(ctx, HookTransactionOptions{
		Activity:   "hook",
		HookName:   "finalErrorAnalyzer",
		HookParams: opts.HookParams,
	}, execCtx, func(ctx context.Context, buf map[string]any) (any, error) {
		return opts.FinalErrorAnalyzer(ctx, FinalErrorAnalyzerInput{
			ReqData:   d,
			Error:     &ClientError{Type: ErrorTypeServer, Message: state.lastErrorString},
			TrialMode: opts.TrialMode,
			Params:    opts.HookParams,
		})
	})
	if err != nil {
		return false, err
	}
	handled, _ := raw.(bool)
	return handled, nil
}
