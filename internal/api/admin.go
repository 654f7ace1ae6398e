package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type evictResponse struct {
	Agent   string `json:"agent,omitempty"`
	Evicted int    `json:"evicted"`
}

func (s *Server) requireCache(w http.ResponseWriter) bool {
	if s.cache == nil {
		respondError(w, http.StatusServiceUnavailable, "cache is disabled")
		return false
	}
	return true
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleCacheEvict removes every entry, or one agent's entries when the agent
// is given in the path or as ?agent=.
func (s *Server) handleCacheEvict(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	agent := chi.URLParam(r, "agentID")
	if agent == "" {
		agent = r.URL.Query().Get("agent")
	}
	n, err := s.cache.Evict(r.Context(), agent)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.logger.Info("cache evicted", "agent", agent, "count", n)
	respondJSON(w, http.StatusOK, evictResponse{Agent: agent, Evicted: n})
}

func (s *Server) handleCacheExpired(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w) {
		return
	}
	n, err := s.cache.EvictExpired(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, evictResponse{Evicted: n})
}

func (s *Server) handleLimits(w http.ResponseWriter, _ *http.Request) {
	if s.limits == nil {
		respondJSON(w, http.StatusOK, map[string]any{})
		return
	}
	respondJSON(w, http.StatusOK, s.limits.Status())
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "review queue is not running")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"pending":  s.queue.Len(),
		"capacity": cap(s.queue.jobs),
		"workers":  s.queue.workers,
	})
}
