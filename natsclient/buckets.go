package natsclient

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/graphbus/errors"
)

// JetStream returns the JetStream context of the current connection.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// jetStream gates bucket calls on the breaker and the connection state.
func (c *Client) jetStream() (jetstream.JetStream, error) {
	switch {
	case c.breaker.isOpen():
		return nil, ErrCircuitOpen
	case c.Status() != StatusConnected:
		return nil, ErrNotConnected
	}
	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return nil, err
	}
	return js, nil
}

// settle feeds the outcome of a bucket call to the breaker.
func (c *Client) settle(err error) {
	if err != nil {
		c.recordFailure()
		return
	}
	c.resetCircuit()
}

// CreateKeyValueBucket opens the bucket named in cfg, creating it first when needed.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.logger.Debugf("Using existing KV bucket %s", cfg.Bucket)
		c.settle(nil)
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if isAlreadyExistsError(err) {
		// another instance created it first
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	c.settle(err)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}

	c.logger.Infof("KV bucket %s ready", cfg.Bucket)
	return bucket, nil
}

// GetKeyValueBucket opens an existing bucket. A missing bucket is reported as
// errors.ErrBucketNotFound and does not count against the breaker.
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, name)
	if stderrors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, errors.WrapInvalid(errors.ErrBucketNotFound, "Client", "GetKeyValueBucket", name)
	}
	c.settle(err)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", "get bucket "+name)
	}
	return bucket, nil
}

// DeleteKeyValueBucket removes a bucket and its history.
func (c *Client) DeleteKeyValueBucket(ctx context.Context, name string) error {
	js, err := c.jetStream()
	if err != nil {
		return err
	}
	err = js.DeleteKeyValue(ctx, name)
	c.settle(err)
	if err != nil {
		return errors.WrapTransient(err, "Client", "DeleteKeyValueBucket", "delete bucket "+name)
	}
	return nil
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"bucket name already in use", "already exists", "stream name already in use"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
