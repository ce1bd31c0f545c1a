// Package v1 holds the request and response shapes of the public
// subscriptions API.
package v1

import (
	"net/http"
	"regexp"
	"time"

	bserrs "github.com/bytesize-news/bytesize/internal/errors"
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
)

type (
	CreateSubscriptionsRequest struct {
		Email   string   `json:"email"`
		Handles []string `json:"handles"`
	}

	Subscription struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		Handle    string    `json:"handle"`
		CreatedAt time.Time `json:"created_at"`
	}

	CreateSubscriptionsResponse struct {
		Subscriptions []Subscription `json:"subscriptions"`
	}

	ListSubscriptionsResponse struct {
		Subscriptions []Subscription `json:"subscriptions"`
	}

	DeleteSubscriptionsRequest struct {
		Email   string   `json:"email"`
		Handles []string `json:"handles"`
	}

	RunRequest struct {
		DryRun bool `json:"dry_run"`
	}

	RunFailure struct {
		Email string `json:"email"`
		Error string `json:"error"`
	}

	RunResponse struct {
		Processed int          `json:"processed"`
		Failures  []RunFailure `json:"failures"`
	}
)

func validateTargets(email string, handles []string) []bserrs.Detail {
	var errs []bserrs.Detail
	if !emailPattern.MatchString(email) {
		errs = append(errs, bserrs.Detail{Field: "email", Error: "must be a valid email address"})
	}
	if len(handles) == 0 {
		errs = append(errs, bserrs.Detail{Field: "handles", Error: "at least one handle is required"})
	}
	for _, h := range handles {
		if !handlePattern.MatchString(h) {
			errs = append(errs, bserrs.Detail{Field: "handles", Error: "handle " + h + " is invalid"})
		}
	}

	return errs
}

func (r CreateSubscriptionsRequest) Validate() error {
	if errs := validateTargets(r.Email, r.Handles); len(errs) > 0 {
		return bserrs.E("invalid request", http.StatusBadRequest, errs)
	}
	return nil
}

func (r DeleteSubscriptionsRequest) Validate() error {
	if errs := validateTargets(r.Email, r.Handles); len(errs) > 0 {
		return bserrs.E("invalid request", http.StatusBadRequest, errs)
	}
	return nil
}

func (r RunRequest) Validate() error {
	return nil
}
