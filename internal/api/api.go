// Package api is the public HTTP surface: subscribing, unsubscribing,
// and manually triggering a digest run.
package api

import (
	"context"
	"net/http"

	"github.com/bytesize-news/bytesize/internal/bytesize"
	"github.com/bytesize-news/bytesize/internal/digest"
	"github.com/bytesize-news/bytesize/internal/server"
)

type (
	// Runner triggers a digest cycle.
	Runner interface {
		Run(ctx context.Context, opts digest.Options) (bytesize.RunReport, error)
	}

	// Server handles the subscription management routes.
	Server struct {
		repo   bytesize.SubscriptionStore
		runner Runner
		sender bytesize.EmailSender
		from   string
	}
)

func NewServer(repo bytesize.SubscriptionStore, runner Runner, sender bytesize.EmailSender, from string) *Server {
	return &Server{
		repo:   repo,
		runner: runner,
		sender: sender,
		from:   from,
	}
}

// Routes attaches every handler to the router.
func (s *Server) Routes(r server.Router) {
	r.HandleFuncE("/api/subscriptions", s.postSubscriptions).Methods(http.MethodPost)
	r.HandleFuncE("/api/subscriptions", s.getSubscriptions).Methods(http.MethodGet)
	r.HandleFuncE("/api/subscriptions", s.deleteSubscriptions).Methods(http.MethodDelete)
	r.HandleFuncE("/api/runs", s.postRuns).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
}
