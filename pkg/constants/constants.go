package constants

type contextKey string

const (
	PoolKey         contextKey = "pool"
	TxKey           contextKey = "tx"
	LoggerKey       contextKey = "logger"
	RequestStart    contextKey = "requestStart"
	RequestIDKey    contextKey = "requestID"
	ContentTypeJSON            = "application/json"
)
