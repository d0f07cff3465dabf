package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/Diintechteam2/mobishaala-backend/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса mobishaala.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/verify", h.Verify)
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/order", h.CreateOrder)
			r.Post("/paytm/callback", h.PaytmCallback)
			r.Get("/order/{orderId}", h.GetOrderStatus)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/", h.ListPayments)
				r.Get("/institute/{instituteId}", h.ListInstitutePayments)
			})
		})

		r.Route("/institutes", func(r chi.Router) {
			r.Post("/", h.RegisterInstitute)
			r.Get("/{instituteId}", h.GetInstitute)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/", h.ListInstitutes)
				r.Patch("/{instituteId}/payments", h.SetInstitutePayments)
			})
		})

		r.Route("/leads", func(r chi.Router) {
			r.Post("/callback", h.CreateCallbackLead)
			r.Post("/course-purchase", h.CreateCoursePurchaseLead)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/institute/{instituteId}", h.ListInstituteLeads)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
