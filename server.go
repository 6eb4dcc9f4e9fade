package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	gerrors "campusgallery/errors"
	"campusgallery/gallery"
	"campusgallery/network"
)

// Node is the part of the running node the HTTP API needs besides the
// controller. *App implements it.
type Node interface {
	Network() network.Network
	SwitchNetwork(ctx context.Context, req SwitchRequest) (network.Network, bool, error)
	IndexCount(ctx context.Context) (CountResponse, error)
	IndexQuery(ctx context.Context, q ArtworkQuery) ([]IndexedArtwork, error)
	IndexStatus(ctx context.Context) (pending int, block uint64)
}

// Server is the HTTP API of the gallery node.
type Server struct {
	controller *gallery.Controller
	node       Node
	hub        *Hub
	backend    string
	logger     *slog.Logger
}

func NewServer(controller *gallery.Controller, node Node, hub *Hub, backend string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{controller: controller, node: node, hub: hub, backend: backend, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLoggerMiddleware)

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/state", s.stateHandler).Methods("GET")
	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.ServeWs).Methods("GET")
	}
	r.HandleFunc("/categories", s.categoriesHandler).Methods("GET")

	r.HandleFunc("/artworks/refresh", s.refreshHandler).Methods("POST")
	r.HandleFunc("/artworks", s.artworksHandler).Methods("GET")
	r.HandleFunc("/artworks/{id:[0-9]+}/like", s.likeHandler).Methods("POST")
	r.HandleFunc("/artworks/{id:[0-9]+}/vote", s.voteHandler).Methods("POST")
	r.HandleFunc("/artworks/{id:[0-9]+}/decrypt-likes", s.decryptLikesHandler).Methods("POST")

	r.HandleFunc("/rank/{category}", s.rankHandler).Methods("GET")
	r.HandleFunc("/rank/{category}/decrypt", s.decryptRankHandler).Methods("POST")
	r.HandleFunc("/me", s.mineHandler).Methods("GET")
	r.HandleFunc("/session/forget-marks", s.forgetMarksHandler).Methods("POST")

	r.HandleFunc("/draft", s.getDraftHandler).Methods("GET")
	r.HandleFunc("/draft", s.putDraftHandler).Methods("PUT")
	r.HandleFunc("/draft/example", s.exampleHandler).Methods("POST")
	r.HandleFunc("/submit", s.submitHandler).Methods("POST")
	r.HandleFunc("/mock-upload", s.mockUploadHandler).Methods("POST")

	r.HandleFunc("/network/switch", s.switchHandler).Methods("POST")

	r.HandleFunc("/index/artworks", s.indexArtworksHandler).Methods("GET")
	r.HandleFunc("/index/count", s.indexCountHandler).Methods("GET")
	return r
}

// ListenAndServe serves on port until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "port", port, "url", fmt.Sprintf("http://localhost:%d", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// requestLoggerMiddleware logs request timing
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(startTime)
		level := "INFO"
		if rw.statusCode >= 500 {
			level = "ERROR"
		} else if rw.statusCode >= 400 {
			level = "WARN"
		}
		fmt.Printf("[%s] [%s] [HTTP] %s %s - %d - %dms\n",
			time.Now().Format(time.RFC3339),
			level,
			r.Method,
			r.URL.Path,
			rw.statusCode,
			duration.Milliseconds(),
		)

		if duration > 500*time.Millisecond {
			logRequestWarning(r.Method, r.URL.Path, duration)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// statusFor maps a classified error to its HTTP status.
func statusFor(err error) int {
	switch {
	case gerrors.IsLocalRejection(err):
		if errors.Is(err, gerrors.ErrBusy) {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case gerrors.IsProviderError(err):
		if errors.Is(err, gerrors.ErrProviderAbsent) {
			return http.StatusServiceUnavailable
		}
		return http.StatusPreconditionFailed
	case gerrors.IsReadError(err), gerrors.IsWriteError(err), gerrors.IsDecryptError(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	jsonError(w, statusFor(err), gerrors.Message(err))
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, gerrors.Wrapf("parse request", gerrors.ErrValidation, "invalid artwork id")
	}
	return id, nil
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return gerrors.Wrapf("parse request", gerrors.ErrValidation, "invalid JSON: %v", err)
}

func (s *Server) actionResponse(w http.ResponseWriter) {
	st := s.controller.State()
	jsonResponse(w, http.StatusOK, ActionResponse{Message: st.Message, State: st})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	n := s.node.Network()
	pending, block := s.node.IndexStatus(r.Context())
	jsonResponse(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		Network:      n.Name,
		ChainID:      n.ChainID,
		Backend:      s.backend,
		Supported:    s.controller.MutationsEnabled(),
		IndexPending: pending,
		IndexBlock:   block,
	})
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.controller.State())
}

func (s *Server) categoriesHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, CategoryResponse{Categories: gallery.Categories()})
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.controller.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, ArtworksResponse{Artworks: list, Count: len(list)})
}

func (s *Server) artworksHandler(w http.ResponseWriter, r *http.Request) {
	list := s.controller.Artworks()
	jsonResponse(w, http.StatusOK, ArtworksResponse{Artworks: list, Count: len(list)})
}

func (s *Server) likeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.controller.Like(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.actionResponse(w)
}

func (s *Server) voteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req VoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.controller.Vote(r.Context(), id, req.Category); err != nil {
		writeError(w, err)
		return
	}
	s.actionResponse(w)
}

func (s *Server) decryptLikesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.controller.DecryptLikes(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

func (s *Server) rankHandler(w http.ResponseWriter, r *http.Request) {
	category := mux.Vars(r)["category"]
	rows, err := s.controller.RankRows(r.Context(), category)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, gallery.RankResult{Category: category, Rows: rows})
}

func (s *Server) decryptRankHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.controller.DecryptRank(r.Context(), mux.Vars(r)["category"])
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

func (s *Server) mineHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.controller.Mine(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, ArtworksResponse{Artworks: list, Count: len(list)})
}

func (s *Server) forgetMarksHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.ForgetMarks(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	st := s.controller.State()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"message": st.Message,
		"state":   st,
	})
}

func (s *Server) getDraftHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.controller.Draft())
}

func (s *Server) putDraftHandler(w http.ResponseWriter, r *http.Request) {
	var d gallery.Draft
	if err := decodeBody(r, &d); err != nil {
		writeError(w, err)
		return
	}
	s.controller.SetDraft(d)
	jsonResponse(w, http.StatusOK, d)
}

func (s *Server) exampleHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.controller.FillExample())
}

// submitHandler submits the request body, or the stored draft when the body
// is empty.
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	d := s.controller.Draft()
	if err := decodeBody(r, &d); err != nil {
		writeError(w, err)
		return
	}
	if err := s.controller.Submit(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}
	s.actionResponse(w)
}

func (s *Server) mockUploadHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := s.controller.MockUpload(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	st := s.controller.State()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"message":    st.Message,
		"submission": sub,
		"state":      st,
	})
}

func (s *Server) switchHandler(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	n, supported, err := s.node.SwitchNetwork(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, SwitchResponse{Network: n, Supported: supported, State: s.controller.State()})
}

func (s *Server) indexArtworksHandler(w http.ResponseWriter, r *http.Request) {
	q := ArtworkQuery{
		Category: r.URL.Query().Get("category"),
		Artist:   r.URL.Query().Get("artist"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		q.Limit = n
	}
	list, err := s.node.IndexQuery(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, IndexedArtworksResponse{Artworks: list, Count: len(list)})
}

func (s *Server) indexCountHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.node.IndexCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, res)
}

// jsonResponse sends a JSON response
func jsonResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// jsonError sends a JSON error response
func jsonError(w http.ResponseWriter, statusCode int, message string) {
	jsonResponse(w, statusCode, map[string]string{"error": message})
}
