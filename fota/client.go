package fota

import "sync"

// Event describes a change of the update state or progress.
type Event struct {
	State   State
	Percent uint8
}

// Client receives update events until it is cancelled.
type Client struct {
	Events     chan *Event
	Id         uint32
	cancelChan chan struct{}
	cancelOnce sync.Once
	controller *Controller
}

// Subscribe returns a client that receives every subsequent Event. Slow
// clients miss events rather than blocking the controller.
func (c *Controller) Subscribe() *Client {
	client := &Client{
		Events:     make(chan *Event, 16),
		cancelChan: make(chan struct{}),
		controller: c,
	}

	c.nextClient.Lock()
	client.Id = c.nextClient.id
	c.nextClient.id++
	c.nextClient.Unlock()

	c.clientsMtx.Lock()
	c.clients[client.Id] = client
	c.clientsMtx.Unlock()

	return client
}

func (c *Controller) notify(event *Event) {
	c.clientsMtx.Lock()
	defer c.clientsMtx.Unlock()

	for _, client := range c.clients {
		select {
		case client.Events <- event:
		default:
			c.log.Debugf("Dropping update event for slow client %v", client.Id)
		}
	}
}

// Cancel stops delivery to the client. It may be called more than once.
func (c *Client) Cancel() {
	c.cancelOnce.Do(func() {
		c.controller.clientsMtx.Lock()
		delete(c.controller.clients, c.Id)
		c.controller.clientsMtx.Unlock()

		close(c.cancelChan)
	})
}

// Done is closed once the client was cancelled.
func (c *Client) Done() <-chan struct{} {
	return c.cancelChan
}
