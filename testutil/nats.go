package testutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/c360/graphbus/natsclient"
)

// ErrNoResponders mirrors the nats.go error for a request nobody serves.
var ErrNoResponders = stderrors.New("nats: no responders available for request")

type subscriber struct {
	queue   string
	handler natsclient.MsgHandler
}

// Bus is an in-process stand-in for the messaging half of natsclient.Client.
// Subscribers sharing a queue group take turns; subscribers without a group
// see every message. Request replies arrive through Publish on a private
// inbox subject, as they do on a real server.
type Bus struct {
	mu         sync.Mutex
	subs       map[string][]subscriber
	turn       map[string]int
	published  map[string][][]byte
	inboxes    map[string]chan []byte
	nextInbox  int
	publishErr error
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:      map[string][]subscriber{},
		turn:      map[string]int{},
		published: map[string][][]byte{},
		inboxes:   map[string]chan []byte{},
	}
}

// Publish records data and hands it to the subscribers of subject. Handlers
// run on the caller's goroutine after the bus lock is released.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	data = append([]byte(nil), data...)

	b.mu.Lock()
	if err := b.publishErr; err != nil {
		b.mu.Unlock()
		return err
	}
	b.published[subject] = append(b.published[subject], data)
	if inbox, ok := b.inboxes[subject]; ok {
		delete(b.inboxes, subject)
		inbox <- data
	}
	targets := b.route(subject)
	b.mu.Unlock()

	deliver(ctx, targets, natsclient.Msg{Subject: subject, Data: data})
	return nil
}

// QueueSubscribe adds handler to queue on subject. An empty queue receives every message.
func (b *Bus) QueueSubscribe(ctx context.Context, subject, queue string, handler natsclient.MsgHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[subject] = append(b.subs[subject], subscriber{queue: queue, handler: handler})
	return nil
}

// Request delivers data with a fresh reply subject and waits for the first
// publish on it.
func (b *Bus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	b.mu.Lock()
	b.nextInbox++
	inbox := fmt.Sprintf("_INBOX.bus.%d", b.nextInbox)
	reply := make(chan []byte, 1)
	b.inboxes[inbox] = reply
	targets := b.route(subject)
	b.mu.Unlock()

	if len(targets) == 0 {
		b.forget(inbox)
		return nil, ErrNoResponders
	}
	deliver(ctx, targets, natsclient.Msg{Subject: subject, Reply: inbox, Data: append([]byte(nil), data...)})

	select {
	case data := <-reply:
		return data, nil
	case <-ctx.Done():
		b.forget(inbox)
		return nil, ctx.Err()
	}
}

// FailPublish makes later Publish calls return err; nil clears it.
func (b *Bus) FailPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Published returns a copy of what was published on subject.
func (b *Bus) Published(subject string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[subject]...)
}

// route picks every ungrouped subscriber plus one member per queue group, in
// subscription order. Caller holds b.mu.
func (b *Bus) route(subject string) []natsclient.MsgHandler {
	var (
		out     []natsclient.MsgHandler
		members = map[string][]natsclient.MsgHandler{}
		groups  []string
	)
	for _, s := range b.subs[subject] {
		if s.queue == "" {
			out = append(out, s.handler)
			continue
		}
		if members[s.queue] == nil {
			groups = append(groups, s.queue)
		}
		members[s.queue] = append(members[s.queue], s.handler)
	}
	for _, g := range groups {
		key := subject + " " + g
		out = append(out, members[g][b.turn[key]%len(members[g])])
		b.turn[key]++
	}
	return out
}

func (b *Bus) forget(inbox string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inboxes, inbox)
}

func deliver(ctx context.Context, handlers []natsclient.MsgHandler, msg natsclient.Msg) {
	for _, h := range handlers {
		h(ctx, msg)
	}
}
