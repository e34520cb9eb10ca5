package stjrag

import "errors"

var (
	// ErrDatasetNotFound is returned when a dataset slug does not exist.
	ErrDatasetNotFound = errors.New("stjrag: dataset not found")

	// ErrResourceNotFound is returned when a resource ID does not exist.
	ErrResourceNotFound = errors.New("stjrag: resource not found")

	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("stjrag: document not found")

	// ErrUnsupportedFormat is returned for unrecognized document formats.
	ErrUnsupportedFormat = errors.New("stjrag: unsupported document format")

	// ErrEmptyText is returned when extraction produced no usable text.
	ErrEmptyText = errors.New("stjrag: document contains no extractable text")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("stjrag: embedding generation failed")

	// ErrLLMRequestFailed is returned when an LLM request fails permanently.
	ErrLLMRequestFailed = errors.New("stjrag: LLM request failed")

	// ErrBrokerUnavailable is returned when a job cannot be enqueued because
	// the broker connection is down. Synchronous fallback is not supported.
	ErrBrokerUnavailable = errors.New("stjrag: async processing required but broker is unavailable")

	// ErrRateLimited is returned when a caller exceeds the query rate limit.
	ErrRateLimited = errors.New("stjrag: rate limit exceeded")

	// ErrDocumentTooLarge is returned when an upload exceeds the size cap.
	ErrDocumentTooLarge = errors.New("stjrag: document exceeds maximum size")

	// ErrBuildInProgress is returned when a community build is already running.
	ErrBuildInProgress = errors.New("stjrag: community build already in progress")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("stjrag: invalid configuration")
)
