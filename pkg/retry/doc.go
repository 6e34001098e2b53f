// Package retry provides exponential backoff for transient failures.
//
// Do and DoWithResult repeat a function until it succeeds, the attempts run out, the
// context is done, or the error is not worth retrying. By default classified invalid
// and fatal errors stop the loop at once; Config.Retryable replaces that rule, and
// NonRetryable marks a single error as final.
//
// Presets:
//
//   - DefaultConfig: 3 attempts, 100ms to 5s
//   - Quick: 10 attempts, 50ms to 1s, for broker connection at startup
//   - Contention: 8 short attempts, for compare-and-swap loops
//
// Example:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//		return client.Connect(ctx)
//	})
package retry
