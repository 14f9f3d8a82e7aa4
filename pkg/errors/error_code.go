package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidInterval      ErrorCode = 102
	ErrCodeInvalidSymbol        ErrorCode = 103
	ErrCodeInvalidChannel       ErrorCode = 104
	ErrCodeMissingParameter     ErrorCode = 105

	// Connection errors (200-299)
	ErrCodeConnectionFailed ErrorCode = 200
	ErrCodeNotConnected     ErrorCode = 201
	ErrCodeConnectionClosed ErrorCode = 202
	ErrCodeSendFailed       ErrorCode = 203
	ErrCodeAlreadyOpen      ErrorCode = 204

	// Correlation errors (300-399)
	ErrCodeCorrelationMismatch ErrorCode = 300
	ErrCodeRequestCancelled    ErrorCode = 301

	// Subscription errors (400-499)
	ErrCodeSubscribeFailed   ErrorCode = 400
	ErrCodeUnsubscribeFailed ErrorCode = 401

	// Seeding errors (500-599)
	ErrCodeSeedFetchFailed ErrorCode = 500
	ErrCodeSeedEmpty       ErrorCode = 501

	// Provider errors (600-699)
	ErrCodeProviderRejected ErrorCode = 600
	ErrCodeDecodeFailed     ErrorCode = 601
	ErrCodeInvalidProvider  ErrorCode = 602
)
