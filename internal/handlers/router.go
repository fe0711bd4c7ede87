package handlers

import (
	"github.com/go-chi/chi/v5"
)

// Mount registers the screen routes on r
func Mount(r chi.Router, screen *ScreenHandler, ws *WebSocketHandler) {
	r.Route("/api/v1/screen", func(r chi.Router) {
		r.Get("/", screen.GetState)
		r.Post("/permission", screen.RequestPermission)
		r.Post("/flip", screen.Flip)
		r.Post("/capture", screen.Capture)
		r.Post("/retake", screen.Retake)
		r.Post("/upload", screen.Upload)
		r.Get("/photo", screen.GetPhoto)
		r.Get("/ws", ws.HandleWebSocket)
	})
}
