package session

// watchBuffer is the per-subscriber backlog. A subscriber that falls further
// behind misses intermediate views; transitions never wait for it.
const watchBuffer = 8

// Watch subscribes to status views published after every applied transition.
// The returned cancel func unsubscribes and closes the channel.
func (c *Controller) Watch() (<-chan View, func()) {
	ch := make(chan View, watchBuffer)
	c.watchMu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	c.watchMu.Unlock()

	cancel := func() {
		c.watchMu.Lock()
		defer c.watchMu.Unlock()
		if w, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(w)
		}
	}
	return ch, cancel
}

func (c *Controller) publish(v View) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for id, ch := range c.watchers {
		select {
		case ch <- v:
		default:
			c.log().Debug("session: watcher behind; dropping view", "watcher", id, "status", v.Status)
		}
	}
}
