// Package server exposes rendered posts, cached content and channel feeds
// over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"telefeed/internal/cache"
	"telefeed/internal/feed"
	"telefeed/internal/platform"
	"telefeed/internal/render"
	"telefeed/internal/signing"
)

// Server holds the request-path collaborators. All state mutation happens
// inside them; handlers stay stateless.
type Server struct {
	client    platform.Client
	renderer  *render.Renderer
	assembler *feed.Assembler
	manager   *cache.Manager
	signer    *signing.Signer
	logger    *slog.Logger
}

// New creates the HTTP server facade.
func New(
	client platform.Client,
	renderer *render.Renderer,
	assembler *feed.Assembler,
	manager *cache.Manager,
	signer *signing.Signer,
	logger *slog.Logger,
) (*Server, error) {
	if client == nil {
		return nil, fmt.Errorf("new server: nil client")
	}
	if renderer == nil {
		return nil, fmt.Errorf("new server: nil renderer")
	}
	if assembler == nil {
		return nil, fmt.Errorf("new server: nil assembler")
	}
	if manager == nil {
		return nil, fmt.Errorf("new server: nil cache manager")
	}
	if signer == nil {
		return nil, fmt.Errorf("new server: nil signer")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		client:    client,
		renderer:  renderer,
		assembler: assembler,
		manager:   manager,
		signer:    signer,
		logger:    logger,
	}, nil
}

// Routes builds the route table.
func (s *Server) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/content/{channel}/{id}/{media}", s.handleContent)
	router.Get("/rss/{channel}", s.handleFeed)
	router.Get("/{channel}/{id}/json", s.handlePostJSON)
	router.Get("/{channel}/{id}", s.handlePostHTML)

	return router
}

func (s *Server) handlePostHTML(w http.ResponseWriter, r *http.Request) {
	rendered, ok := s.renderPost(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, rendered.HTML)
}

func (s *Server) handlePostJSON(w http.ResponseWriter, r *http.Request) {
	rendered, ok := s.renderPost(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(rendered); err != nil {
		s.logger.Warn("encode rendered post failed", "error", err)
	}
}

func (s *Server) renderPost(w http.ResponseWriter, r *http.Request) (render.Rendered, bool) {
	channel := chi.URLParam(r, "channel")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 || channel == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return render.Rendered{}, false
	}

	post, err := s.client.GetMessage(r.Context(), channel, id)
	if err != nil {
		s.writeError(w, "render post", channel, id, err)
		return render.Rendered{}, false
	}

	return s.renderer.Render(post, false), true
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	media := chi.URLParam(r, "media")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 || channel == "" || media == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	key := cache.Key{Channel: channel, PostID: id, MediaID: media}
	path := "/content/" + key.String()
	if !s.signer.Verify(path, r.URL.Query().Get("sig")) {
		http.Error(w, "invalid digest", http.StatusForbidden)
		return
	}

	localPath, err := s.manager.Resolve(r.Context(), key)
	if err != nil {
		s.writeError(w, "resolve content", channel, id, err)
		return
	}

	reader, contentType, size, err := s.manager.Serve(localPath)
	if err != nil {
		s.writeError(w, "serve content", channel, id, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Warn("stream content failed",
			"channel", channel, "post", id, "media", media, "error", err)
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	if channel == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	document, err := s.assembler.Assemble(r.Context(), channel, limit)
	if err != nil {
		s.writeError(w, "assemble feed", channel, 0, err)
		return
	}

	data, err := document.Encode()
	if err != nil {
		s.logger.Error("encode feed failed", "channel", channel, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, operation, channel string, id int64, err error) {
	switch {
	case errors.Is(err, platform.ErrNotFound) || errors.Is(err, cache.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, platform.ErrUpstream):
		s.logger.Warn(operation+" upstream failure", "channel", channel, "post", id, "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	default:
		s.logger.Error(operation+" failed", "channel", channel, "post", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
