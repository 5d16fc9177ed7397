package staterequest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/Emmvish/stable-request/internal/backoff"
)

func trialModeRoll() float64 {
	return rand.Float64()
}

// EngineResult is the exit contract of Execute.
type EngineResult struct {
	Success            bool
	Data               any
	Error              string
	ErrorLogs          []ErrorLogEntry
	SuccessfulAttempts []SuccessLogEntry
	Metrics            ResultMetrics
}

// Engine is the top-level request-lifecycle orchestrator. It
// composes the circuit breaker, cache, buffer, and hook runner behind one
// Execute call.
type Engine struct {
	opts       RequestOptions
	backoff    *backoff.Calculator
	hookRunner *HookRunner
}

// NewEngine validates opts (via the same path as RequestOptionsBuilder)
// and builds an Engine ready to Execute.
func NewEngine(opts RequestOptions) (*Engine, error) {
	finalized, err := FromOptions(opts).Build()
	if err != nil {
		return nil, err
	}

	calc := backoff.ForKind(retryKindFor(finalized.RetryStrategy))

	hr := NewHookRunner(HookRunnerConfig{
		Buffer:          finalized.Buffer,
		LoadBeforeHooks: finalized.LoadBeforeHooks,
		StoreAfterHooks: finalized.StoreAfterHooks,
		Persistence:     finalized.HookPersistence,
		Logger:          finalized.Logger,
	})

	return &Engine{opts: finalized, backoff: calc, hookRunner: hr}, nil
}

func retryKindFor(name RetryStrategyName) backoff.Kind {
	switch name {
	case RetryLinear:
		return backoff.Linear
	case RetryExponential:
		return backoff.Exponential
	default:
		return backoff.Fixed
	}
}

// attemptState carries the mutable bookkeeping threaded through the loop
// body across iterations of Execute's attempt loop.
type attemptState struct {
	errorLogs          []ErrorLogEntry
	successfulAttempts []SuccessLogEntry
	lastResult         AttemptResult
	lastAnalyzerAccept bool
	breakerOpenErr     error
	lastErrorString    string
	totalAttempts      int
	successCount       int
	failureCount       int
}

// Execute runs the full request lifecycle: pre-execution hook, the
// per-attempt loop (breaker admission, cache check, transport call,
// response validation, breaker accounting, logging), and termination.
func (e *Engine) Execute(ctx context.Context) (EngineResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	opts := e.opts

	descriptor := requestDescriptorFromOptions(opts)
	execCtx := opts.ExecutionContext

	opts.Metrics.RecordRequestStart(opts.Method)
	defer opts.Metrics.RecordRequestEnd(opts.Method)

	// Step 0: optional transaction log loader.
	var txLogs []TransactionLog
	if opts.TransactionLoader != nil {
		logs, err := opts.TransactionLoader(execCtx)
		if err != nil {
			opts.Logger.Warn("transaction log loader failed", "error", err)
		} else {
			txLogs = logs
		}
	}

	// Step 1: pre-execution hook.
	if opts.PreExecutionHook != nil {
		override, err := e.runPreExecutionHook(ctx, opts, descriptor, execCtx, txLogs)
		if err != nil {
			if !opts.ContinueOnPreExecutionHookFailure {
				result := e.terminate(opts, start, nil, fmt.Errorf("pre-execution hook failed: %w", err))
				if opts.ThrowOnFailedErrorAnalysis {
					return result, err
				}
				return result, nil
			}
			opts.Logger.Warn("pre-execution hook failed, continuing", "error", err)
		} else if override != nil && opts.ApplyPreExecutionConfigOverride {
			opts = applyPreExecutionOverride(opts, *override)
		}
	}

	// Step 2: transport config + trial mode validation.
	cfg := buildTransportConfig(opts, descriptor)
	if err := opts.TrialMode.validate(); err != nil {
		return e.terminate(opts, start, nil, err), nil
	}

	state := &attemptState{}

	for i := 1; i <= opts.Attempts; i++ {
		attemptLabel := fmt.Sprintf("%d/%d", i, opts.Attempts)

		// 3a. Breaker admission.
		if opts.CircuitBreaker != nil && (opts.CircuitBreaker.cfg.TrackIndividualAttempts || i == 1) {
			if !opts.CircuitBreaker.CanExecute() {
				stats := opts.CircuitBreaker.Stats()
				state.breakerOpenErr = &CircuitBreakerOpenError{State: stats.State, OpenUntil: stats.OpenUntil}
				break
			}
		}

		// 3b. Cache check. A hit returns before the attempt is counted:
		// it never reaches the transport, so it is not a transport attempt.
		if opts.Cache != nil && opts.Cache.EligibleMethod(cfg.Method) {
			if entry, hit := opts.Cache.Get(cfg); hit {
				opts.Metrics.RecordCacheHit(opts.Method)
				result := e.successResult(opts, start, entry.Data, state, true)
				return result, nil
			}
			opts.Metrics.RecordCacheMiss(opts.Method)
		}

		state.totalAttempts = i

		// 3c. Transport call.
		attemptResult := opts.Transport.Do(ctx, cfg)
		if !attemptResult.OK && attemptResult.Error == nil {
			attemptResult.Error = classifyTransportFailure("", attemptResult.StatusCode, false, fmt.Errorf("transport returned not-ok without error"))
		}

		// 3d. Trial mode synthesis.
		if opts.TrialMode.Enabled {
			attemptResult = synthesizeTrialModeResult(opts.TrialMode, attemptResult)
		}

		if !attemptResult.OK {
			if opts.CircuitBreaker != nil && opts.CircuitBreaker.cfg.TrackIndividualAttempts {
				opts.CircuitBreaker.RecordAttemptFailure()
				if opts.CircuitBreaker.State() == StateOpen {
					stats := opts.CircuitBreaker.Stats()
					state.breakerOpenErr = &CircuitBreakerOpenError{State: stats.State, OpenUntil: stats.OpenUntil}
				}
			}
		}

		state.lastResult = attemptResult
		accept := false
		analyzerThrew := false

		// 3e. Validation.
		if attemptResult.OK {
			if opts.ResponseAnalyzer != nil {
				verdict, err := e.runResponseAnalyzer(ctx, opts, descriptor, attemptResult, execCtx, txLogs)
				if err != nil {
					opts.Logger.Warn("response analyzer failed, treating as retry", "error", err)
					analyzerThrew = true
					accept = false
				} else {
					accept = verdict
				}
			} else {
				accept = true
			}
		}
		state.lastAnalyzerAccept = accept

		// 3f. Breaker accounting (per-attempt mode), for the validated outcome.
		if opts.CircuitBreaker != nil && opts.CircuitBreaker.cfg.TrackIndividualAttempts && attemptResult.OK {
			if accept {
				opts.CircuitBreaker.RecordAttemptSuccess()
			} else {
				opts.CircuitBreaker.RecordAttemptFailure()
			}
			if opts.CircuitBreaker.State() == StateOpen {
				stats := opts.CircuitBreaker.Stats()
				state.breakerOpenErr = &CircuitBreakerOpenError{State: stats.State, OpenUntil: stats.OpenUntil}
			}
		}
		if opts.CircuitBreaker != nil {
			opts.Metrics.RecordCircuitBreakerState(opts.Hostname, opts.CircuitBreaker.State())
		}

		// 3g. Error reporting.
		if !attemptResult.OK || !accept {
			state.failureCount++
		}
		if opts.LogAllErrors && (!attemptResult.OK || !accept) {
			entry := buildErrorLogEntry(attemptLabel, attemptResult, accept, analyzerThrew)
			state.errorLogs = append(state.errorLogs, entry)
			state.lastErrorString = entry.Error
			opts.Metrics.RecordError(string(entry.Type), opts.Method)
			if opts.HandleErrors != nil {
				e.runHandleErrors(ctx, opts, descriptor, entry, execCtx)
			}
		} else if !attemptResult.OK || !accept {
			state.lastErrorString = describeAttemptFailure(attemptResult, accept)
		}

		// 3h. Success reporting.
		if attemptResult.OK && accept {
			state.successCount++
			successEntry := SuccessLogEntry{
				Attempt:         attemptLabel,
				Timestamp:       attemptResult.Timestamp,
				Data:            unwrapResponseBody(attemptResult.Data),
				ExecutionTimeMs: attemptResult.ExecutionTimeMs,
				StatusCode:      attemptResult.StatusCode,
			}
			if opts.LogAllSuccessfulAttempts {
				state.successfulAttempts = append(state.successfulAttempts, successEntry)
				if opts.HandleSuccessfulAttemptData != nil {
					e.runHandleSuccessfulAttemptData(ctx, opts, descriptor, successEntry, execCtx)
				}
			}
			if opts.Cache != nil {
				if payload, ok := attemptResult.Data.(responsePayload); ok {
					opts.Cache.StoreFromResponse(cfg, payload, time.Now())
				}
			}
		}

		if state.breakerOpenErr != nil {
			break
		}

		retryableFailure := !attemptResult.OK && IsRetryableError(attemptResult.Error)
		analyzerRetry := attemptResult.OK && !accept
		var transportErr *TransportError
		cancelled := !attemptResult.OK && errors.As(attemptResult.Error, &transportErr) && transportErr.Cancelled

		// 3i. Loop decision. A cancelled attempt ends the loop, even under
		// PerformAllAttempts.
		hasMore := i < opts.Attempts
		shouldContinue := hasMore && !cancelled && (retryableFailure || analyzerRetry || opts.PerformAllAttempts)
		if !shouldContinue {
			break
		}

		if opts.Metrics != nil {
			opts.Metrics.RecordRetry(opts.Method, i+1)
		}

		// 3j. Sleep.
		delay := e.backoff.Calculate(i, waitDuration(opts.Wait), waitDuration(opts.MaxAllowedWait), opts.Jitter)
		if delay > 0 {
			var cancelDone <-chan struct{}
			if opts.Cancel != nil {
				cancelDone = opts.Cancel.Done()
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return e.terminate(opts, start, state, ctx.Err()), nil
			case <-cancelDone:
				return e.terminate(opts, start, state, opts.Cancel.Err()), nil
			}
		}
	}

	// Step 4: termination.
	if state.breakerOpenErr != nil {
		result := e.terminateWithLogs(opts, start, state, state.breakerOpenErr.Error())
		return result, nil
	}

	finalSuccess := false
	var finalData any
	if opts.PerformAllAttempts && len(state.successfulAttempts) > 0 {
		finalSuccess = true
		finalData = state.successfulAttempts[len(state.successfulAttempts)-1].Data
	} else if state.lastResult.OK && state.lastAnalyzerAccept {
		finalSuccess = true
		finalData = state.lastResult.Data
	}

	// Request-level breaker accounting:
	// recorded once per Execute call, independent of the per-attempt
	// triplet TrackIndividualAttempts maintains above.
	if opts.CircuitBreaker != nil {
		if finalSuccess {
			opts.CircuitBreaker.RecordSuccess()
		} else {
			opts.CircuitBreaker.RecordFailure()
		}
	}

	if finalSuccess {
		return e.successResult(opts, start, finalData, state, false), nil
	}

	handled := false
	if opts.FinalErrorAnalyzer != nil {
		var err error
		handled, err = e.runFinalErrorAnalyzer(ctx, opts, descriptor, state, execCtx)
		if err != nil {
			opts.Logger.Warn("final error analyzer failed, treating as unhandled", "error", err)
			handled = false
		}
	}

	if !handled && opts.ThrowOnFailedErrorAnalysis {
		finalErr := fmt.Errorf("staterequest: request failed: %s", state.lastErrorString)
		return e.terminateWithLogs(opts, start, state, state.lastErrorString), finalErr
	}

	return e.terminateWithLogs(opts, start, state, state.lastErrorString), nil
}

func (e *Engine) terminate(opts RequestOptions, start time.Time, state *attemptState, err error) EngineResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return e.terminateWithLogs(opts, start, state, msg)
}

func (e *Engine) terminateWithLogs(opts RequestOptions, start time.Time, state *attemptState, errMsg string) EngineResult {
	result := EngineResult{
		Success: false,
		Error:   errMsg,
	}
	metrics := e.buildMetrics(opts, start, state, false)
	result.Metrics = metrics
	if state != nil {
		if len(state.errorLogs) > 0 {
			result.ErrorLogs = state.errorLogs
		}
		if len(state.successfulAttempts) > 0 {
			result.SuccessfulAttempts = state.successfulAttempts
		}
	}
	opts.Metrics.RecordRequest(opts.Method, "failure", time.Since(start))
	return result
}

func (e *Engine) successResult(opts RequestOptions, start time.Time, data any, state *attemptState, fromCache bool) EngineResult {
	result := EngineResult{Success: true}
	if opts.ResReq {
		result.Data = unwrapResponseBody(data)
	} else {
		result.Data = true
	}
	if state != nil {
		if len(state.errorLogs) > 0 {
			result.ErrorLogs = state.errorLogs
		}
		if len(state.successfulAttempts) > 0 {
			result.SuccessfulAttempts = state.successfulAttempts
		}
	}
	result.Metrics = e.buildMetrics(opts, start, state, fromCache)
	opts.Metrics.RecordRequest(opts.Method, "success", time.Since(start))
	return result
}

func (e *Engine) buildMetrics(opts RequestOptions, start time.Time, state *attemptState, fromCache bool) ResultMetrics {
	m := ResultMetrics{
		TotalExecutionTimeMs: time.Since(start).Milliseconds(),
		FromCache:            fromCache,
	}
	if state != nil {
		m.TotalAttempts = state.totalAttempts
		m.SuccessfulAttempts = state.successCount
		m.FailedAttempts = state.failureCount
	}
	if opts.CircuitBreaker != nil {
		s := opts.CircuitBreaker.State()
		m.CircuitBreakerState = &s
	}
	if opts.Guardrail != nil {
		m.Anomalies = opts.Guardrail(m)
	}
	return m
}

// requestDescriptorFromOptions reconstructs the RequestDescriptor view of
// opts for hook inputs that expect it verbatim.
func requestDescriptorFromOptions(opts RequestOptions) RequestDescriptor {
	return RequestDescriptor{
		Hostname:  opts.Hostname,
		Protocol:  opts.Protocol,
		Method:    opts.Method,
		Path:      opts.Path,
		Port:      opts.Port,
		Headers:   opts.Headers,
		Query:     opts.Query,
		Body:      opts.Body,
		TimeoutMs: opts.TimeoutMs,
		Cancel:    opts.Cancel,
	}
}

func buildTransportConfig(opts RequestOptions, d RequestDescriptor) TransportConfig {
	return TransportConfig{
		Method:  d.Method,
		URL:     d.Path,
		BaseURL: fmt.Sprintf("%s://%s:%d", d.Protocol, d.Hostname, d.Port),
		Headers: d.Headers,
		Params:  d.Query,
		Data:    d.Body,
		Timeout: time.Duration(d.TimeoutMs) * time.Millisecond,
		Cancel:  opts.Cancel,
	}
}

func applyPreExecutionOverride(opts RequestOptions, override PreExecutionResult) RequestOptions {
	if override.Attempts != nil {
		opts.Attempts = *override.Attempts
	}
	if override.Wait != nil {
		opts.Wait = *override.Wait
	}
	if override.MaxAllowedWait != nil {
		opts.MaxAllowedWait = *override.MaxAllowedWait
	}
	if override.RetryStrategy != nil {
		opts.RetryStrategy = RetryStrategyName(*override.RetryStrategy)
	}
	return opts
}

func synthesizeTrialModeResult(trial TrialModeConfig, fallback AttemptResult) AttemptResult {
	if trialModeRoll() < trial.ReqFailureProbability {
		return AttemptResult{
			OK:          false,
			IsRetryable: true,
			Timestamp:   time.Now(),
			StatusCode:  500,
			Error:       classifyTransportFailure("", 500, false, fmt.Errorf("trial mode synthesized failure")),
		}
	}
	return AttemptResult{
		OK:         true,
		Timestamp:  time.Now(),
		StatusCode: 200,
		Data:       responsePayload{Body: map[string]any{"status": "ok"}, Status: 200, StatusText: "200 OK"},
	}
}

func buildErrorLogEntry(attempt string, result AttemptResult, accept, analyzerThrew bool) ErrorLogEntry {
	entry := ErrorLogEntry{
		Timestamp:       result.Timestamp,
		Attempt:         attempt,
		ExecutionTimeMs: result.ExecutionTimeMs,
		StatusCode:      result.StatusCode,
	}
	if !result.OK {
		entry.Type = ErrorLogHTTPError
		entry.IsRetryable = result.IsRetryable
		if result.Error != nil {
			entry.Error = result.Error.Error()
		}
		return entry
	}
	entry.Type = ErrorLogInvalidContent
	entry.IsRetryable = true
	if analyzerThrew {
		entry.Error = "response analyzer failed; treated as retry"
	} else {
		entry.Error = "response analyzer rejected attempt"
	}
	return entry
}

// unwrapResponseBody extracts the decoded body from a transport success
// payload so the cache-hit path (which stores only the body) and the
// live-transport path (which carries the full responsePayload) expose
// the same shape to the caller.
func unwrapResponseBody(data any) any {
	if payload, ok := data.(responsePayload); ok {
		return payload.Body
	}
	return data
}

func describeAttemptFailure(result AttemptResult, accept bool) string {
	if !result.OK {
		if result.Error != nil {
			return result.Error.Error()
		}
		return "transport attempt failed"
	}
	return "response analyzer rejected attempt"
}
