package natsclient

import (
	"time"

	"github.com/nats-io/nats.go"
)

func (c *Client) healthCallback() func(bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.onHealthChange
}

func (c *Client) notify(healthy bool) {
	if fn := c.healthCallback(); fn != nil {
		go fn(healthy)
	}
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	if err != nil {
		c.logger.Errorf("Disconnected from NATS: %v", err)
	}
	c.notify(false)
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	if c.metrics != nil {
		c.metrics.RecordNATSReconnect()
	}
	c.logger.Infof("Reconnected to NATS at %s", c.url)
	c.notify(true)
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.notify(false)
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Errorf("NATS error on %s: %v", sub.Subject, err)
		return
	}
	c.logger.Errorf("NATS error: %v", err)
}

// startWatch replaces any running watcher with a fresh one.
func (c *Client) startWatch() {
	c.stopWatch()

	done := make(chan struct{})
	c.mu.Lock()
	c.stopDone = done
	c.mu.Unlock()

	go c.watch(done)
}

func (c *Client) stopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopDone != nil {
		close(c.stopDone)
		c.stopDone = nil
	}
}

// watch probes the connection every healthPollInterval and reconciles the
// status with what it finds. Transitions reach the health callback in order.
func (c *Client) watch(done <-chan struct{}) {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	last := c.IsHealthy()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		healthy, known := c.probe()
		if !known {
			continue
		}
		switch status := c.Status(); {
		case healthy && status != StatusConnected:
			c.setStatus(StatusConnected)
		case !healthy && status == StatusConnected:
			c.setStatus(StatusReconnecting)
		}
		if healthy != last {
			if fn := c.healthCallback(); fn != nil {
				fn(healthy)
			}
			last = healthy
		}
	}
}

// probe pings the server. known is false when there is no connection to ask.
func (c *Client) probe() (healthy, known bool) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return false, false
	}
	if !conn.IsConnected() {
		return false, true
	}
	rtt, err := conn.RTT()
	if err != nil {
		return false, true
	}
	if c.metrics != nil {
		c.metrics.RecordNATSRTT(rtt)
	}
	return true, true
}
