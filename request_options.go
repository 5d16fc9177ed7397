package staterequest

import (
	"context"
	"time"
)

// RetryStrategyName names one of the three backoff strategies.
type RetryStrategyName string

const (
	RetryFixed       RetryStrategyName = "FIXED"
	RetryLinear      RetryStrategyName = "LINEAR"
	RetryExponential RetryStrategyName = "EXPONENTIAL"
)

// RequestOptions is the full configuration record for one Execute call.
type RequestOptions struct {
	// Request descriptor.
	Hostname  string
	Protocol  string
	Method    string
	Path      string
	Port      int
	Headers   map[string]string
	Query     map[string]string
	Body      any
	TimeoutMs int
	Cancel    context.Context

	// Attempt loop knobs.
	Attempts                  int
	PerformAllAttempts        bool
	Wait                      int64
	MaxAllowedWait            int64
	RetryStrategy             RetryStrategyName
	Jitter                    float64
	ResReq                    bool
	LogAllErrors              bool
	LogAllSuccessfulAttempts  bool
	MaxSerializableChars      int
	ThrowOnFailedErrorAnalysis bool
	TrialMode                 TrialModeConfig
	HookParams                any

	ContinueOnPreExecutionHookFailure bool
	ApplyPreExecutionConfigOverride   bool

	// Hooks.
	PreExecutionHook            PreExecutionHook
	ResponseAnalyzer            ResponseAnalyzer
	HandleErrors                HandleErrors
	HandleSuccessfulAttemptData HandleSuccessfulAttemptData
	FinalErrorAnalyzer          FinalErrorAnalyzer

	// Collaborators.
	Cache          *Cache
	CircuitBreaker *CircuitBreaker
	Buffer         Buffer
	Transport      Transport
	Logger         Logger
	Metrics        *MetricsCollector
	Guardrail      GuardrailFunc

	ExecutionContext ExecutionContext
	TransactionLoader func(ExecutionContext) ([]TransactionLog, error)

	HookPersistence HookPersistenceFunc
	LoadBeforeHooks bool
	StoreAfterHooks bool
}

// RequestOptionsBuilder validates and clamps every knob centrally at
// construction, rather than relying on a shallow-merge-over-defaults idiom.
type RequestOptionsBuilder struct {
	opts RequestOptions
	errs []error
}

// NewRequestOptionsBuilder seeds a builder with sane defaults.
func NewRequestOptionsBuilder() *RequestOptionsBuilder {
	return &RequestOptionsBuilder{
		opts: RequestOptions{
			Protocol:             "https",
			Method:               "GET",
			Port:                 443,
			TimeoutMs:            15000,
			Attempts:             1,
			Wait:                 1000,
			MaxAllowedWait:       60000,
			RetryStrategy:        RetryFixed,
			MaxSerializableChars: 1000,
		},
	}
}

func (b *RequestOptionsBuilder) WithHostname(h string) *RequestOptionsBuilder {
	b.opts.Hostname = h
	return b
}

func (b *RequestOptionsBuilder) WithProtocol(p string) *RequestOptionsBuilder {
	b.opts.Protocol = p
	return b
}

func (b *RequestOptionsBuilder) WithMethod(m string) *RequestOptionsBuilder {
	b.opts.Method = m
	return b
}

func (b *RequestOptionsBuilder) WithPath(p string) *RequestOptionsBuilder {
	b.opts.Path = p
	return b
}

func (b *RequestOptionsBuilder) WithPort(p int) *RequestOptionsBuilder {
	b.opts.Port = p
	return b
}

func (b *RequestOptionsBuilder) WithHeaders(h map[string]string) *RequestOptionsBuilder {
	b.opts.Headers = h
	return b
}

func (b *RequestOptionsBuilder) WithQuery(q map[string]string) *RequestOptionsBuilder {
	b.opts.Query = q
	return b
}

func (b *RequestOptionsBuilder) WithBody(body any) *RequestOptionsBuilder {
	b.opts.Body = body
	return b
}

func (b *RequestOptionsBuilder) WithTimeoutMs(ms int) *RequestOptionsBuilder {
	b.opts.TimeoutMs = ms
	return b
}

func (b *RequestOptionsBuilder) WithAttempts(n int) *RequestOptionsBuilder {
	b.opts.Attempts = n
	return b
}

func (b *RequestOptionsBuilder) WithPerformAllAttempts(v bool) *RequestOptionsBuilder {
	b.opts.PerformAllAttempts = v
	return b
}

func (b *RequestOptionsBuilder) WithWait(ms int64) *RequestOptionsBuilder {
	b.opts.Wait = ms
	return b
}

func (b *RequestOptionsBuilder) WithMaxAllowedWait(ms int64) *RequestOptionsBuilder {
	b.opts.MaxAllowedWait = ms
	return b
}

func (b *RequestOptionsBuilder) WithRetryStrategy(s RetryStrategyName) *RequestOptionsBuilder {
	b.opts.RetryStrategy = s
	return b
}

func (b *RequestOptionsBuilder) WithJitter(j float64) *RequestOptionsBuilder {
	b.opts.Jitter = j
	return b
}

func (b *RequestOptionsBuilder) WithResReq(v bool) *RequestOptionsBuilder {
	b.opts.ResReq = v
	return b
}

func (b *RequestOptionsBuilder) WithLogAllErrors(v bool) *RequestOptionsBuilder {
	b.opts.LogAllErrors = v
	return b
}

func (b *RequestOptionsBuilder) WithLogAllSuccessfulAttempts(v bool) *RequestOptionsBuilder {
	b.opts.LogAllSuccessfulAttempts = v
	return b
}

func (b *RequestOptionsBuilder) WithMaxSerializableChars(n int) *RequestOptionsBuilder {
	b.opts.MaxSerializableChars = n
	return b
}

func (b *RequestOptionsBuilder) WithThrowOnFailedErrorAnalysis(v bool) *RequestOptionsBuilder {
	b.opts.ThrowOnFailedErrorAnalysis = v
	return b
}

func (b *RequestOptionsBuilder) WithTrialMode(t TrialModeConfig) *RequestOptionsBuilder {
	b.opts.TrialMode = t
	return b
}

func (b *RequestOptionsBuilder) WithHookParams(p any) *RequestOptionsBuilder {
	b.opts.HookParams = p
	return b
}

func (b *RequestOptionsBuilder) WithContinueOnPreExecutionHookFailure(v bool) *RequestOptionsBuilder {
	b.opts.ContinueOnPreExecutionHookFailure = v
	return b
}

func (b *RequestOptionsBuilder) WithApplyPreExecutionConfigOverride(v bool) *RequestOptionsBuilder {
	b.opts.ApplyPreExecutionConfigOverride = v
	return b
}

func (b *RequestOptionsBuilder) WithPreExecutionHook(h PreExecutionHook) *RequestOptionsBuilder {
	b.opts.PreExecutionHook = h
	return b
}

func (b *RequestOptionsBuilder) WithResponseAnalyzer(h ResponseAnalyzer) *RequestOptionsBuilder {
	b.opts.ResponseAnalyzer = h
	return b
}

func (b *RequestOptionsBuilder) WithHandleErrors(h HandleErrors) *RequestOptionsBuilder {
	b.opts.HandleErrors = h
	return b
}

func (b *RequestOptionsBuilder) WithHandleSuccessfulAttemptData(h HandleSuccessfulAttemptData) *RequestOptionsBuilder {
	b.opts.HandleSuccessfulAttemptData = h
	return b
}

func (b *RequestOptionsBuilder) WithFinalErrorAnalyzer(h FinalErrorAnalyzer) *RequestOptionsBuilder {
	b.opts.FinalErrorAnalyzer = h
	return b
}

func (b *RequestOptionsBuilder) WithCache(c *Cache) *RequestOptionsBuilder {
	b.opts.Cache = c
	return b
}

func (b *RequestOptionsBuilder) WithCircuitBreaker(cb *CircuitBreaker) *RequestOptionsBuilder {
	b.opts.CircuitBreaker = cb
	return b
}

func (b *RequestOptionsBuilder) WithBuffer(buf Buffer) *RequestOptionsBuilder {
	b.opts.Buffer = buf
	return b
}

func (b *RequestOptionsBuilder) WithTransport(t Transport) *RequestOptionsBuilder {
	b.opts.Transport = t
	return b
}

func (b *RequestOptionsBuilder) WithLogger(l Logger) *RequestOptionsBuilder {
	b.opts.Logger = l
	return b
}

func (b *RequestOptionsBuilder) WithMetrics(m *MetricsCollector) *RequestOptionsBuilder {
	b.opts.Metrics = m
	return b
}

func (b *RequestOptionsBuilder) WithGuardrail(g GuardrailFunc) *RequestOptionsBuilder {
	b.opts.Guardrail = g
	return b
}

func (b *RequestOptionsBuilder) WithExecutionContext(ec ExecutionContext) *RequestOptionsBuilder {
	b.opts.ExecutionContext = ec
	return b
}

func (b *RequestOptionsBuilder) WithTransactionLoader(f func(ExecutionContext) ([]TransactionLog, error)) *RequestOptionsBuilder {
	b.opts.TransactionLoader = f
	return b
}

func (b *RequestOptionsBuilder) WithHookPersistence(f HookPersistenceFunc, loadBefore, storeAfter bool) *RequestOptionsBuilder {
	b.opts.HookPersistence = f
	b.opts.LoadBeforeHooks = loadBefore
	b.opts.StoreAfterHooks = storeAfter
	return b
}

// FromOptions seeds a builder from an already-populated RequestOptions,
// so NewEngine can run any RequestOptions value through the same
// validation/clamping path as the fluent builder.
func FromOptions(o RequestOptions) *RequestOptionsBuilder {
	return &RequestOptionsBuilder{opts: o}
}

// Build validates required fields and clamps numeric ranges, returning
// the finished RequestOptions or the first validation error encountered.
func (b *RequestOptionsBuilder) Build() (RequestOptions, error) {
	o := b.opts

	if o.Hostname == "" {
		return o, &ClientError{Type: ErrorTypeValidation, Message: "hostname is required"}
	}
	if o.Protocol == "" {
		o.Protocol = "https"
	}
	if o.Protocol != "http" && o.Protocol != "https" {
		return o, &ClientError{Type: ErrorTypeValidation, Message: "protocol must be http or https"}
	}
	switch o.Method {
	case "GET", "POST", "PUT", "PATCH", "DELETE":
	case "":
		o.Method = "GET"
	default:
		return o, &ClientError{Type: ErrorTypeValidation, Message: "unsupported method: " + o.Method}
	}
	if o.Path == "" || o.Path[0] != '/' {
		return o, &ClientError{Type: ErrorTypeValidation, Message: "path must begin with '/'"}
	}
	if o.Port <= 0 {
		o.Port = 443
	}
	if o.TimeoutMs <= 0 {
		o.TimeoutMs = 15000
	}

	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.Wait < 0 {
		o.Wait = 1000
	}
	if o.MaxAllowedWait <= 0 {
		o.MaxAllowedWait = 60000
	}
	switch o.RetryStrategy {
	case RetryFixed, RetryLinear, RetryExponential:
	case "":
		o.RetryStrategy = RetryFixed
	default:
		return o, &ClientError{Type: ErrorTypeValidation, Message: "unsupported retryStrategy: " + string(o.RetryStrategy)}
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	if o.Jitter >= 1 {
		o.Jitter = 0.999999
	}
	if o.MaxSerializableChars <= 0 {
		o.MaxSerializableChars = 1000
	}
	if err := o.TrialMode.validate(); err != nil {
		return o, err
	}

	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	if o.Transport == nil {
		o.Transport = NewHTTPTransport(nil)
	}
	if o.Buffer == nil {
		o.Buffer = NewPlainBuffer(nil)
	}
	if o.Guardrail == nil {
		o.Guardrail = DefaultGuardrail
	}

	return o, nil
}

// waitDuration is a convenience conversion used by the engine's backoff
// calculator, which works in time.Duration.
func waitDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
