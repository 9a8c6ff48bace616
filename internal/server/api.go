package server

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/lestari/internal/auth"
	"github.com/TobiSchelling/lestari/internal/tracking"
)

// Error codes returned in the "code" field of JSON error bodies.
const (
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeInternal     = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type statsBody struct {
	Slug       string     `json:"slug"`
	ViewCount  int64      `json:"view_count"`
	LikeCount  int64      `json:"like_count"`
	LastReadAt *time.Time `json:"last_read_at"`
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	_, err := s.tracker.RecordView(r.Context(), r.PathValue("slug"), tracking.ViewInput{
		SourceAddress: clientAddress(r),
		UserAgent:     r.UserAgent(),
		Referrer:      r.Referer(),
	})
	if err != nil {
		s.writeTrackingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.ResolveSession(r)
	if !ok {
		s.writeTrackingError(w, r, tracking.ErrUnauthorized)
		return
	}

	res, err := s.tracker.ToggleLike(r.Context(), r.PathValue("slug"), session.UserID)
	if err != nil {
		s.writeTrackingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liked": res.Liked})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	article, err := s.db.GetArticleBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.writeTrackingError(w, r, &tracking.StoreError{Op: "load stats", Err: err})
		return
	}
	if article == nil {
		s.writeTrackingError(w, r, tracking.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, statsBody{
		Slug:       article.Slug,
		ViewCount:  article.ViewCount,
		LikeCount:  article.LikeCount,
		LastReadAt: article.LastReadAt,
	})
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.ResolveSession(r)
	if !ok {
		s.writeTrackingError(w, r, tracking.ErrUnauthorized)
		return
	}
	if !session.HasRole(auth.RoleAdmin) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "admin role required", Code: CodeForbidden})
		return
	}

	report, err := s.tracker.Repair(r.Context())
	if err != nil {
		s.writeTrackingError(w, r, err)
		return
	}
	log.Printf("[%s] repair by %s: checked=%d repaired=%d",
		requestID(r.Context()), session.UserID, report.Checked, report.Repaired)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		log.Printf("[%s] health check: %v", requestID(r.Context()), err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeTrackingError maps tracking errors to responses. Store failure text is
// logged, never sent to the client.
func (s *Server) writeTrackingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tracking.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "article not found", Code: CodeNotFound})
	case errors.Is(err, tracking.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required", Code: CodeUnauthorized})
	default:
		log.Printf("[%s] %s %s: %v", requestID(r.Context()), r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: CodeInternal})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

// clientAddress picks the view's source address: the first X-Forwarded-For
// hop, then X-Real-IP, then the connection's remote host.
func clientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return tracking.UnknownAddress
}
