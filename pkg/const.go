package pkg

const (
	HeaderTraceId   string = "X-Trace-Id"
	HeaderRequestId string = "X-Request-Id"
)

const (
	TraceId       string = "trace_id"
	RequestId     string = "request_id"
	CorrelationId string = "correlation_id"
	NaturalKey    string = "natural_key"
)

// SyncStatus is the lifecycle state of one sync attempt (sync_logs.status).
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusCancelled SyncStatus = "cancelled"
)

// TransactionType is the debit/credit flag on a persisted transaction.
type TransactionType string

const (
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypeCredit TransactionType = "credit"
)

// ConsentStatus is the state of a provider consent.
type ConsentStatus string

const (
	ConsentStatusActive  ConsentStatus = "active"
	ConsentStatusPending ConsentStatus = "pending"
	ConsentStatusRevoked ConsentStatus = "revoked"
	ConsentStatusExpired ConsentStatus = "expired"
)

// Dead-letter reasons carried on DLQ entries.
const (
	DLQReasonMaxRetries     string = "max_retries_exceeded"
	DLQReasonInvalidPayload string = "invalid_payload"
)
