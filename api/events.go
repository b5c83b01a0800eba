package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/the-lightning-land/fotad/fota"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type getUpdateEventsEvent struct {
	State   string `json:"state"`
	Percent uint8  `json:"percent"`
}

func newUpdateEvent(state fota.State, percent uint8) *getUpdateEventsEvent {
	return &getUpdateEventsEvent{
		State:   state.String(),
		Percent: percent,
	}
}

func (a *Api) handleGetUpdateEvents() http.HandlerFunc {
	upgrader := &websocket.Upgrader{}

	return func(w http.ResponseWriter, r *http.Request) {
		client := a.updates.Subscribe()

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			client.Cancel()
			a.log.Errorf("Could not upgrade to websocket: %v", err)
			return
		}

		closed := make(chan struct{})

		// read pump
		go func() {
			defer close(closed)

			c.SetReadLimit(512)
			_ = c.SetReadDeadline(time.Now().Add(pongWait))
			c.SetPongHandler(func(string) error {
				return c.SetReadDeadline(time.Now().Add(pongWait))
			})

			for {
				_, _, err := c.ReadMessage()
				if err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
						a.log.Errorf("unexpected websocket closure: %v", err)
					}
					break
				}
			}
		}()

		// write pump
		go func() {
			defer c.Close()
			defer client.Cancel()

			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()

			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteJSON(newUpdateEvent(a.updates.State(), a.updates.Percent())); err != nil {
				return
			}

			for {
				select {
				case event := <-client.Events:
					_ = c.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.WriteJSON(newUpdateEvent(event.State, event.Percent)); err != nil {
						return
					}
				case <-ticker.C:
					_ = c.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				case <-closed:
					_ = c.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}()
	}
}
