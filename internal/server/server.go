package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/TobiSchelling/lestari/internal/auth"
	"github.com/TobiSchelling/lestari/internal/database"
	"github.com/TobiSchelling/lestari/internal/tracking"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// SessionResolver maps request credentials to a session.
type SessionResolver interface {
	ResolveSession(r *http.Request) (*auth.Session, bool)
}

// Server is the HTTP server for article pages and engagement tracking.
type Server struct {
	db       *database.DB
	tracker  *tracking.Service
	sessions SessionResolver
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, tracker *tracking.Service, sessions SessionResolver) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"formatTime": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Format("Jan 02, 2006 15:04 MST")
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "article.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, tracker: tracker, sessions: sessions, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server, instrumented and with
// request ids and access logging.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(withRequestID(withAccessLog(s.mux)), "lestari")
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /articles/{slug}", s.handleArticle)

	// Tracking API
	s.mux.HandleFunc("POST /articles/{slug}/view", s.handleView)
	s.mux.HandleFunc("POST /articles/{slug}/like", s.handleLike)
	s.mux.HandleFunc("GET /articles/{slug}/stats", s.handleStats)

	s.mux.HandleFunc("POST /admin/repair", s.handleRepair)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	articles, err := s.db.ListArticles(r.Context())
	if err != nil {
		log.Printf("[%s] listing articles: %v", requestID(r.Context()), err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Articles": articles,
	})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.db.GetArticleBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		log.Printf("[%s] loading article: %v", requestID(r.Context()), err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if article == nil {
		http.NotFound(w, r)
		return
	}

	s.render(w, "article.html", map[string]any{
		"Article": article,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve runs the HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, srv *Server, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
