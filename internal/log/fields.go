package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldUserID     = "user_id"
	FieldYear       = "year"
	FieldMonth      = "month"
	FieldKind       = "kind"
	FieldCategory   = "category"
	FieldAmount     = "amount"
	FieldBalance    = "balance"
	FieldCacheKey   = "cache_key"
	FieldOpID       = "operation_id"
	FieldRetryCount = "retry_count"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentBalance = "balance"
	ComponentCache   = "cache"
	ComponentStore   = "store"
	ComponentAuth    = "auth"
	ComponentOffline = "offline"
	ComponentEvents  = "events"
	ComponentWorker  = "worker"
	ComponentUser    = "user"
)

// Operations defines standard operation names
const (
	OpRegister   = "register"
	OpRead       = "read"
	OpInvalidate = "invalidate"
	OpReplay     = "replay"
	OpSweep      = "sweep"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)
