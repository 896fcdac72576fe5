package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(apiHandler.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/login", apiHandler.LoginHandler)
		r.Post("/signup", apiHandler.SignupHandler)
		r.Get("/directory", apiHandler.DirectoryHandler)
		r.Get("/skills", apiHandler.SkillsHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Session routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/logout", apiHandler.LogoutHandler)
			r.Get("/events", apiHandler.EventsHandler)
			r.Get("/state", apiHandler.StateHandler)
			r.Post("/navigate", apiHandler.NavigateHandler)
			r.Post("/feedback", apiHandler.FeedbackHandler)

			r.Get("/me", apiHandler.MeHandler)
			r.Put("/me/profile", apiHandler.UpdateProfileHandler)
			r.Get("/me/bookings", apiHandler.BookingsHandler)

			r.Get("/mentees", apiHandler.MenteesHandler)
			r.Route("/mentors", func(r chi.Router) {
				r.Get("/", apiHandler.MentorsHandler)
				r.Post("/matches", apiHandler.MatchesHandler)
				r.Post("/{userID}/rating", apiHandler.RateHandler)
				r.Get("/{userID}/availability", apiHandler.AvailabilityHandler)
				r.Post("/{userID}/bookings", apiHandler.BookHandler)
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", apiHandler.ListConversationsHandler)
				r.Post("/", apiHandler.StartChatHandler)
				r.Get("/{conversationID}", apiHandler.GetConversationHandler)
				r.Post("/{conversationID}/open", apiHandler.OpenConversationHandler)
				r.Post("/{conversationID}/messages", apiHandler.PostMessageHandler)
				r.Post("/{conversationID}/read", apiHandler.MarkReadHandler)
				r.Post("/{conversationID}/typing", apiHandler.TypingHandler)
				r.Get("/{conversationID}/icebreakers", apiHandler.IcebreakersHandler)
				r.Post("/{conversationID}/reply-suggestion", apiHandler.SuggestReplyHandler)
			})

			r.Get("/assistant", apiHandler.AssistantHistoryHandler)
			r.Post("/assistant/messages", apiHandler.AskAssistantHandler)

			r.Route("/communities", func(r chi.Router) {
				r.Get("/", apiHandler.ListCommunitiesHandler)
				r.Post("/", apiHandler.CreateCommunityHandler)
				r.Post("/close", apiHandler.LeaveCommunityViewHandler)
				r.Get("/{communityID}", apiHandler.ViewCommunityHandler)
				r.Post("/{communityID}/join", apiHandler.JoinCommunityHandler)
				r.Post("/{communityID}/posts", apiHandler.CreatePostHandler)
				r.Post("/{communityID}/posts/{postID}/replies", apiHandler.CreateReplyHandler)
			})
		})
	})

	return r
}
