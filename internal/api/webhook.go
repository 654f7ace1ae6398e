package api

import (
	"errors"
	"net/http"

	gh "github.com/google/go-github/v68/github"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

// maxPayloadBytes matches GitHub's cap on webhook payloads.
const maxPayloadBytes = 25 << 20

// reviewActions are the pull_request actions that change the diff.
var reviewActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

type webhookResponse struct {
	Status   string `json:"status"`
	Key      string `json:"key,omitempty"`
	Revision string `json:"revision,omitempty"`
}

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	eventType := gh.WebHookType(r)
	log := s.logger.With("event", eventType, "delivery_id", gh.DeliveryID(r))

	if len(s.secret) == 0 {
		s.metrics.WebhookReceived(eventType, "unconfigured")
		respondError(w, http.StatusServiceUnavailable, "webhook secret is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	payload, err := gh.ValidatePayload(r, s.secret)
	if err != nil {
		log.Warn("rejected webhook", "error", err)
		s.metrics.WebhookReceived(eventType, "rejected")
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if eventType != "ping" && eventType != "pull_request" {
		s.metrics.WebhookReceived(eventType, "ignored")
		respondJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	event, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		s.metrics.WebhookReceived(eventType, "invalid")
		respondError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	switch e := event.(type) {
	case *gh.PingEvent:
		s.metrics.WebhookReceived(eventType, "pong")
		respondJSON(w, http.StatusOK, webhookResponse{Status: "pong"})
	case *gh.PullRequestEvent:
		s.handlePullRequest(w, e, gh.DeliveryID(r))
	default:
		s.metrics.WebhookReceived(eventType, "ignored")
		respondJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
	}
}

func (s *Server) handlePullRequest(w http.ResponseWriter, e *gh.PullRequestEvent, deliveryID string) {
	if !reviewActions[e.GetAction()] {
		s.metrics.WebhookReceived("pull_request", "ignored")
		respondJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	number := e.GetNumber()
	if number == 0 {
		number = e.GetPullRequest().GetNumber()
	}
	ref, err := core.ParsePullRef(core.PullRef{
		Owner:  e.GetRepo().GetOwner().GetLogin(),
		Repo:   e.GetRepo().GetName(),
		Number: number,
	}.Key())
	if err != nil {
		s.metrics.WebhookReceived("pull_request", "invalid")
		respondDomainError(w, err)
		return
	}

	job := Job{Ref: ref, Revision: e.GetPullRequest().GetHead().GetSHA(), DeliveryID: deliveryID}
	if s.queue == nil {
		s.metrics.WebhookReceived("pull_request", "unavailable")
		respondError(w, http.StatusServiceUnavailable, "review queue is not running")
		return
	}
	if err := s.queue.Enqueue(job); err != nil {
		result := "unavailable"
		if errors.Is(err, ErrQueueFull) {
			result = "queue_full"
		}
		s.logger.WithEvent(ref.Key()).Warn("pull request not queued", "error", err)
		s.metrics.WebhookReceived("pull_request", result)
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.logger.WithEvent(ref.Key()).Info("pull request queued",
		"action", e.GetAction(), "revision", job.Revision, "delivery_id", deliveryID)
	s.metrics.WebhookReceived("pull_request", "queued")
	respondJSON(w, http.StatusAccepted, webhookResponse{Status: "queued", Key: ref.Key(), Revision: job.Revision})
}
