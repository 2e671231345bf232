package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.CreateOrder)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetOrder)
			r.Patch("/", handler.UpdateOrder)
			r.Delete("/", handler.DeleteOrder)

			r.Post("/items", handler.AddItem)
			r.Delete("/items", handler.RemoveItem)
			r.Patch("/items/{cartIndex}", handler.ModifyItem)

			r.Post("/fees", handler.AddFee)
			r.Delete("/fees/{key}", handler.RemoveFee)

			r.Post("/refund", handler.Refund)
			r.Get("/journal", handler.GetJournal)
		})
	})

	return r
}
