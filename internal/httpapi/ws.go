package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"breakerd/internal/broadcast"
	"breakerd/internal/engine"
)

// registerWS exposes the live-state channel. Each client gets the full
// snapshot on connect and incremental updates afterwards; inbound
// messages are only read to notice the disconnect.
func registerWS(app *fiber.App, eng *engine.Engine, hub *broadcast.Hub) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		obs := hub.Register(eng.Snapshot())
		defer hub.Unregister(obs)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg, ok := <-obs.Out:
				if !ok {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
}
