package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	goaway "github.com/TwiN/go-away"

	subsv1 "github.com/bytesize-news/bytesize/api/subscriptions/v1"
	"github.com/bytesize-news/bytesize/internal/bytesize"
	bserrs "github.com/bytesize-news/bytesize/internal/errors"
	"github.com/bytesize-news/bytesize/internal/server"
)

func (s *Server) postSubscriptions(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	body, err := server.DecodeValid[subsv1.CreateSubscriptionsRequest](r.Body)
	if err != nil {
		return err
	}

	// Handles end up interpolated into LLM prompts, so it's imperative
	// that we're trying to keep the input rather clean.
	for _, handle := range body.Handles {
		if goaway.IsProfane(handle) {
			return bserrs.E("profanity detected in handle", http.StatusUnprocessableEntity)
		}
	}

	subs, err := s.repo.AddSubscriptions(ctx, body.Email, body.Handles)
	if err != nil {
		return bserrs.E(err)
	}

	// Confirmation is best-effort; the subscription itself stands.
	if err := s.sendConfirmation(r, body.Email, body.Handles); err != nil {
		slog.Warn("error sending confirmation email", "email", body.Email, "error", err)
	}

	resp := subsv1.CreateSubscriptionsResponse{}
	for _, sub := range subs {
		resp.Subscriptions = append(resp.Subscriptions, toV1(sub))
	}
	return server.WriteJSON(w, http.StatusCreated, resp)
}

func (s *Server) getSubscriptions(w http.ResponseWriter, r *http.Request) error {
	email := r.URL.Query().Get("email")
	if email == "" {
		return bserrs.E("email query parameter is required", http.StatusBadRequest)
	}

	subs, err := s.repo.SubscriptionsByEmail(r.Context(), email)
	if err != nil {
		return bserrs.E(err)
	}

	resp := subsv1.ListSubscriptionsResponse{Subscriptions: []subsv1.Subscription{}}
	for _, sub := range subs {
		resp.Subscriptions = append(resp.Subscriptions, toV1(sub))
	}
	return server.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) deleteSubscriptions(w http.ResponseWriter, r *http.Request) error {
	body, err := server.DecodeValid[subsv1.DeleteSubscriptionsRequest](r.Body)
	if err != nil {
		return err
	}

	if err := s.repo.DeactivateSubscriptions(r.Context(), body.Email, body.Handles); err != nil {
		return bserrs.E(err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) sendConfirmation(r *http.Request, email string, handles []string) error {
	msg := bytesize.EmailMessage{
		From:    s.from,
		To:      email,
		Subject: "Subscription Confirmation",
		Text: fmt.Sprintf("You are now subscribed to @%s.\n\nYou will receive your daily digest every morning.",
			strings.Join(handles, ", @")),
	}

	_, err := s.sender.Send(r.Context(), msg)
	return err
}

func toV1(sub bytesize.Subscription) subsv1.Subscription {
	return subsv1.Subscription{
		ID:        sub.ID,
		Email:     sub.Email,
		Handle:    sub.Handle,
		CreatedAt: sub.CreatedAt,
	}
}
