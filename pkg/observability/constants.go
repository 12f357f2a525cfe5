package observability

const (
	AttrBackend        = "llm.backend"
	AttrModel          = "llm.model"
	AttrTokensInput    = "llm.tokens.input"
	AttrTokensOutput   = "llm.tokens.output"
	AttrCacheCategory  = "cache.category"
	AttrCacheOutcome   = "cache.outcome"
	AttrSearchProvider = "search.provider"
	AttrDeviceService  = "device.service"
	AttrErrorType      = "error.type"
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	SpanQuery         = "gateway.query"
	SpanLLMRequest    = "llm.request"
	SpanCacheLookup   = "cache.lookup"
	SpanSearchFanout  = "search.fanout"
	SpanDeviceCommand = "smarthome.command"

	DefaultServiceName  = "hearth"
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
	DefaultSamplingRate = 1.0
)
