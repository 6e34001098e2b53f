// Package worker provides a bounded, generic worker pool.
//
// A Pool runs a fixed number of goroutines over a buffered queue. Submit never
// blocks: a full queue returns ErrQueueFull so the caller can shed load. A
// processor panic is recovered and handed to the error handler wrapped in
// ErrProcessorPanic.
//
//	pool, err := worker.NewPool(8, 256, handle,
//		worker.WithErrorHandler(func(msg natsclient.Msg, err error) {
//			logger.Error("Command failed", "reply", msg.Reply, "error", err)
//		}))
//	if err != nil {
//		return err
//	}
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(5 * time.Second)
package worker
