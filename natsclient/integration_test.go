//go:build integration

package natsclient

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/c360/graphbus/errors"
)

func TestIntegration_ConnectAndRequest(t *testing.T) {
	tc := NewTestClient(t)
	client := tc.Client
	ctx := context.Background()

	require.True(t, client.IsHealthy())
	rtt, err := client.RTT()
	require.NoError(t, err)
	assert.Positive(t, rtt)

	var served atomic.Int32
	for i := 0; i < 2; i++ {
		err := client.QueueSubscribe(ctx, "svc.echo", "workers", func(ctx context.Context, msg Msg) {
			served.Add(1)
			_ = client.Publish(ctx, msg.Reply, append([]byte("echo:"), msg.Data...))
		})
		require.NoError(t, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	reply, err := client.Request(reqCtx, "svc.echo", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(reply))
	// one queue member answers
	assert.Equal(t, int32(1), served.Load())
}

func TestIntegration_KVStore(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("kv-test"))
	ctx := context.Background()

	bucket, err := tc.Client.GetKeyValueBucket(ctx, "kv-test")
	require.NoError(t, err)
	kv := tc.Client.NewKVStore(bucket, func(o *KVOptions) { o.MaxRetries = 50 })

	t.Run("basic operations", func(t *testing.T) {
		_, err := kv.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrKVKeyNotFound)

		rev, err := kv.Create(ctx, "k", []byte("v1"))
		require.NoError(t, err)

		_, err = kv.Create(ctx, "k", []byte("again"))
		assert.ErrorIs(t, err, ErrKVKeyExists)

		_, err = kv.Update(ctx, "k", []byte("v2"), rev+10)
		assert.ErrorIs(t, err, ErrKVRevisionMismatch)

		_, err = kv.Update(ctx, "k", []byte("v2"), rev)
		require.NoError(t, err)

		entry, err := kv.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(entry.Value))

		require.NoError(t, kv.Delete(ctx, "k"))
		assert.ErrorIs(t, kv.Delete(ctx, "k"), ErrKVKeyNotFound)
		_, err = kv.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrKVKeyNotFound)
	})

	t.Run("keys by prefix", func(t *testing.T) {
		for _, k := range []string{"p.a", "p.b", "q.a"} {
			_, err := kv.Put(ctx, k, []byte("x"))
			require.NoError(t, err)
		}
		keys, err := kv.Keys(ctx, "p.")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p.a", "p.b"}, keys)
	})

	t.Run("concurrent updates all land", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := kv.UpdateWithRetry(ctx, "counter", func(cur []byte) ([]byte, error) {
					n, _ := strconv.Atoi(string(cur))
					return []byte(strconv.Itoa(n + 1)), nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		entry, err := kv.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, "8", string(entry.Value))
	})

	t.Run("update function error is returned", func(t *testing.T) {
		boom := errors.New("boom")
		err := kv.UpdateWithRetry(ctx, "counter", func([]byte) ([]byte, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	})
}

func TestIntegration_BucketLifecycle(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	_, err := tc.Client.GetKeyValueBucket(ctx, "lifecycle")
	assert.ErrorIs(t, err, errs.ErrBucketNotFound)
	assert.Zero(t, tc.Client.Failures(), "missing bucket is not a breaker failure")

	first, err := tc.CreateKVBucket(ctx, "lifecycle")
	require.NoError(t, err)
	again, err := tc.CreateKVBucket(ctx, "lifecycle")
	require.NoError(t, err)
	assert.Equal(t, first.Bucket(), again.Bucket())

	require.NoError(t, tc.Client.DeleteKeyValueBucket(ctx, "lifecycle"))
	_, err = tc.Client.GetKeyValueBucket(ctx, "lifecycle")
	assert.ErrorIs(t, err, errs.ErrBucketNotFound)
}
