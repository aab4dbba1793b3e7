// Package chainerr defines the error-kind taxonomy shared by every
// component of the indexer, so callers can branch on kind with
// errors.Is instead of string matching.
package chainerr

import "errors"

// Sentinel error kinds. Wrap one of these with fmt.Errorf("...: %w", ...)
// at the point of failure; never construct a new unrelated error type.
var (
	// Configuration covers missing or invalid setup, e.g. no connection DSN.
	Configuration = errors.New("chainidx: configuration error")

	// Connectivity covers an unreachable backend or a failed/rolled-back
	// transaction. Connectivity errors may be retried by the caller.
	Connectivity = errors.New("chainidx: connectivity error")

	// Invariant covers a violated internal invariant: sequence drift
	// between a stage's cached next-id and the backend, a missing
	// outpoint after fetch-missing, or a missing height in the in-flight
	// registry on block commit. Always fatal; never retried.
	Invariant = errors.New("chainidx: invariant violation")

	// Parse covers a block failing to decode. Fails the whole batch.
	Parse = errors.New("chainidx: parse error")

	// Shutdown covers a send to a stage whose worker has already
	// terminated with an error.
	Shutdown = errors.New("chainidx: shutdown error")
)

// IsFatal reports whether an error kind should stop the pipeline outright
// rather than being a candidate for caller-side retry.
func IsFatal(err error) bool {
	return errors.Is(err, Invariant) || errors.Is(err, Parse) || errors.Is(err, Configuration)
}

// IsRetryable reports whether an error kind may be worth retrying at the
// connection layer.
func IsRetryable(err error) bool {
	return errors.Is(err, Connectivity)
}
