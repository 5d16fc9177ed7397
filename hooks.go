package staterequest

import "context"

// PreExecutionInput is passed to PreExecutionHook once before the attempt
// loop starts.
type PreExecutionInput struct {
	InputParams         RequestDescriptor
	CommonBuffer        map[string]any
	StableRequestOptions RequestOptions
	TransactionLogs     []TransactionLog
}

// PreExecutionResult is the optional partial-options override a
// PreExecutionHook may return. Nil fields are left untouched when merged
// over the active options (only when ApplyPreExecutionConfigOverride).
type PreExecutionResult struct {
	Attempts            *int
	Wait                *int64
	MaxAllowedWait       *int64
	RetryStrategy       *string
}

// PreExecutionHook runs once before the attempt loop. Returning a non-nil
// PreExecutionResult with ApplyPreExecutionConfigOverride set merges it
// over the active options. An error aborts the request unless
// ContinueOnPreExecutionHookFailure is set.
type PreExecutionHook func(ctx context.Context, in PreExecutionInput) (*PreExecutionResult, error)

// ResponseAnalyzerInput is passed to ResponseAnalyzer for each ok
// transport attempt.
type ResponseAnalyzerInput struct {
	ReqData           RequestDescriptor
	Data              any
	TrialMode         TrialModeConfig
	Params            any
	PreExecutionResult *PreExecutionResult
	CommonBuffer      map[string]any
	ExecutionContext  ExecutionContext
	TransactionLogs   []TransactionLog
}

// ResponseAnalyzer decides whether an ok attempt's payload is acceptable.
// true=accept, false=retry. A thrown error is treated as retry and
// logged, never propagated.
type ResponseAnalyzer func(ctx context.Context, in ResponseAnalyzerInput) (bool, error)

// HandleErrorsInput is passed to HandleErrors for each failed or rejected
// attempt when logAllErrors is enabled.
type HandleErrorsInput struct {
	ReqData             RequestDescriptor
	ErrorLog            ErrorLogEntry
	MaxSerializableChars int
	Params              any
}

// HandleErrors is an observability hook; its return value is ignored and
// any error it raises is logged and swallowed.
type HandleErrors func(ctx context.Context, in HandleErrorsInput) error

// HandleSuccessfulAttemptDataInput is passed to
// HandleSuccessfulAttemptData for each accepted attempt when
// logAllSuccessfulAttempts is enabled.
type HandleSuccessfulAttemptDataInput struct {
	ReqData               RequestDescriptor
	SuccessfulAttemptData SuccessLogEntry
	Params                any
}

// HandleSuccessfulAttemptData is an observability hook; its return value
// is ignored and any error it raises is logged and swallowed.
type HandleSuccessfulAttemptData func(ctx context.Context, in HandleSuccessfulAttemptDataInput) error

// FinalErrorAnalyzerInput is passed to FinalErrorAnalyzer once after the
// attempt loop ends in failure.
type FinalErrorAnalyzerInput struct {
	ReqData   RequestDescriptor
	Error     error
	TrialMode TrialModeConfig
	Params    any
}

// FinalErrorAnalyzer decides whether the terminal failure was "handled"
// (true) or "unhandled" (false). A thrown error is logged and treated as
// unhandled.
type FinalErrorAnalyzer func(ctx context.Context, in FinalErrorAnalyzerInput) (bool, error)

// TrialModeConfig synthesizes transport outcomes for testing without a
// live upstream.
type TrialModeConfig struct {
	Enabled               bool
	ReqFailureProbability float64
}

func (t TrialModeConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if t.ReqFailureProbability < 0 || t.ReqFailureProbability > 1 {
		return &ClientError{Type: ErrorTypeValidation, Message: "trialMode.reqFailureProbability must be in [0,1]"}
	}
	return nil
}
