package api

import (
	"net/http"

	subsv1 "github.com/bytesize-news/bytesize/api/subscriptions/v1"
	"github.com/bytesize-news/bytesize/internal/digest"
	bserrs "github.com/bytesize-news/bytesize/internal/errors"
	"github.com/bytesize-news/bytesize/internal/server"
)

// Triggers a digest cycle and waits for the report. With dry_run set,
// fetch and summarize execute normally but nothing is sent.
func (s *Server) postRuns(w http.ResponseWriter, r *http.Request) error {
	body, err := server.DecodeValid[subsv1.RunRequest](r.Body)
	if err != nil {
		return err
	}

	report, err := s.runner.Run(r.Context(), digest.Options{DryRun: body.DryRun})
	if err != nil {
		return bserrs.E(err)
	}

	resp := subsv1.RunResponse{Processed: report.Processed, Failures: []subsv1.RunFailure{}}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, subsv1.RunFailure{
			Email: f.Email,
			Error: f.Err.Error(),
		})
	}
	return server.WriteJSON(w, http.StatusOK, resp)
}
