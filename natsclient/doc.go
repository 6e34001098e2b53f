// Package natsclient wraps nats.go with a circuit breaker, health monitoring and a
// compare-and-swap key/value store over JetStream.
//
// # Connection lifecycle
//
// A Client moves through Disconnected, Connecting, Connected and Reconnecting. After
// five consecutive failures (WithCircuitBreakerThreshold) the circuit opens and
// connection attempts fail fast with ErrCircuitOpen until the backoff elapses. The
// backoff doubles on every opening, capped by WithMaxBackoff.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("graphbus"),
//	    natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # Messaging
//
// QueueSubscribe hands each message to one member of a queue group as a Msg carrying
// its reply subject. Replies go out through Publish on that subject.
//
// # Key/value
//
// KVStore wraps a JetStream bucket. UpdateWithRetry reads a key, applies a function
// and writes back with a revision check, retrying only on revision conflicts:
//
//	bucket, _ := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "graph"})
//	kv := client.NewKVStore(bucket)
//	err := kv.UpdateWithRetry(ctx, "v.1", func(cur []byte) ([]byte, error) {
//	    return append(cur, '!'), nil
//	})
//
// # Testing
//
// NewTestClient starts a NATS container through testcontainers and returns a connected
// client. Tests using it carry the integration build tag.
package natsclient
