// Package server wires HTTP handlers into a chi router for the roomchat
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes configures and returns the HTTP handler with all application routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(httpMetrics)

	r.MethodNotAllowed(methodNotAllowed)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", s.Root)
	r.Get("/health", s.Health)
	r.Get("/status", s.Status)
	r.Get("/ws/{roomID}", s.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(maxBodySize(8 * 1024))

		r.Post("/auth", s.Auth)
		r.Post("/logout", s.Logout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/rooms", s.ListRooms)
			r.Post("/rooms", s.CreateRoom)
			r.Get("/rooms/{roomID}/messages", s.RoomMessages)
			r.Post("/rooms/{roomID}/invites", s.CreateInvite)
			r.Post("/invites/{code}", s.RedeemInvite)
		})
	})

	return r
}
