package errors

const QueueDomain = "queue"

// Queue error codes
const (
	QueueErrConnection = "QUEUE_CONNECTION"
	QueueErrPublish    = "QUEUE_PUBLISH"
	QueueErrConsume    = "QUEUE_CONSUME"
	QueueErrClosed     = "QUEUE_CLOSED"
	// QueueErrFull is a bounded in-memory queue at capacity.
	QueueErrFull = "QUEUE_FULL"
)

// Queue operations
const (
	OpPublish   = "Publish"
	OpConsume   = "Consume"
	OpSubscribe = "Subscribe"
)

// QueueWrapWithCode returns nil when err is nil.
func QueueWrapWithCode(err error, operation string, code string, message string) error {
	return wrapError(QueueDomain, operation, code, message, err)
}

func QueueErrorf(operation string, code string, format string, args ...interface{}) error {
	return newError(QueueDomain, operation, code, Sprintf(format, args...), nil)
}

func IsQueueError(err error, code string) bool {
	return hasCode(err, QueueDomain, code)
}
