package health

import (
	"encoding/json"
	"net/http"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

type report struct {
	Failures []string `json:"failures"`
}

// NewHealthCheckHttpHandler answers 204 while checker passes. Otherwise it answers 503 with a JSON body
// listing each failing check.
func NewHealthCheckHttpHandler(checker Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := checker.Check()
		if err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		log.WithError(err).Warn("health check failed")
		body := report{}
		if merr, ok := err.(*multierror.Error); ok {
			for _, e := range merr.WrappedErrors() {
				body.Failures = append(body.Failures, e.Error())
			}
		} else {
			body.Failures = []string{err.Error()}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.WithError(err).Error("failed to write health check response")
		}
	})
}
