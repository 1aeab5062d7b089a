package hub

import "time"

// monitor drives the heartbeat of one connection:
//
//	ALIVE --ping--> AWAITING_PONG --pong--> ALIVE
//	AWAITING_PONG --death timer--> DEAD
//
// A pong only disarms the death timer; the ping cadence is never reset.
// The loop ends as soon as the client is closed, so a death timer cannot
// act on a connection that is already gone.
func (h *Hub) monitor(c *Client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	death := time.NewTimer(h.opts.PongTimeout)
	death.Stop()
	defer death.Stop()

	var pingSentAt time.Time
	for {
		select {
		case <-c.done:
			return

		case <-ticker.C:
			pingSentAt = time.Now()
			if err := c.conn.Ping(pingSentAt.Add(h.opts.PingInterval)); err != nil {
				h.Disconnect(c, ReasonPingFailed)
				return
			}
			c.setState(StateAwaitingPong)
			death.Reset(h.opts.PongTimeout)

		case <-c.pongs:
			if c.LastPong().Before(pingSentAt) {
				// stale pong from an earlier round
				continue
			}
			death.Stop()
			c.setState(StateAlive)

		case <-death.C:
			// The pong may have landed while the timer fired.
			if !c.LastPong().Before(pingSentAt) {
				c.setState(StateAlive)
				continue
			}
			h.logger.Debug().Str("client_id", c.ID).Msg("no pong, connection presumed dead")
			h.Disconnect(c, ReasonHeartbeat)
			return
		}
	}
}
