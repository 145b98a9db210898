// Command devsupervisor-worker is the per-project process a Worker
// Process Handle spawns. It indexes its project on startup and serves
// the Query Service over a small JSON HTTP surface — not the
// language-server wire protocol, which stays out of scope.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/projectforge/devsupervisor/pkg/indexer"
	"github.com/projectforge/devsupervisor/pkg/log"
	"github.com/projectforge/devsupervisor/pkg/query"
)

const reindexInterval = 60 * time.Second

type modeFlags []string

func (m *modeFlags) String() string     { return fmt.Sprint([]string(*m)) }
func (m *modeFlags) Set(v string) error { *m = append(*m, v); return nil }

func main() {
	var (
		project   = flag.String("project", "", "absolute path to the project directory")
		transport = flag.String("transport", "streamable", "streamable or server-sent-events")
		host      = flag.String("host", "127.0.0.1", "listen host")
		port      = flag.Int("port", 0, "listen port")
		ctxMode   = flag.String("context", "", "worker context tag")
		logLevel  = flag.String("log-level", "info", "log level")
		modes     modeFlags
	)
	flag.Var(&modes, "mode", "repeatable worker mode flag")
	flag.Parse()

	log.Init(log.Config{Level: log.Level(*logLevel), JSONOutput: true})
	logger := zerolog.New(os.Stdout).With().Timestamp().
		Str("project", *project).Str("context", *ctxMode).Logger()

	if *project == "" || *port == 0 {
		logger.Fatal().Msg("--project and --port are required")
	}

	ix, err := indexer.New(indexer.Config{ProjectPath: *project, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("open indexer")
	}
	defer ix.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats, err := ix.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("initial index run failed")
	} else {
		logger.Info().Int("indexed_files", stats.IndexedFiles).Msg("initial index complete")
	}

	isSSE := *transport == "server-sent-events"
	srv := newServer(ix.Query(), logger, isSSE)
	srv.publishStats(stats)

	httpSrv := &http.Server{
		Addr:    (*host) + ":" + strconv.Itoa(*port),
		Handler: srv.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	logger.Info().Str("addr", httpSrv.Addr).Msg("worker listening")

	if isSSE {
		go srv.reindexLoop(ctx, ix)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

type server struct {
	q      *query.Service
	log    zerolog.Logger
	sse    bool
	events chan string
}

func newServer(q *query.Service, logger zerolog.Logger, sse bool) *server {
	return &server{q: q, log: logger, sse: sse, events: make(chan string, 64)}
}

// publishStats drops the latest indexing stats onto the SSE event
// channel, non-blocking so a slow or absent reader never stalls the
// reindex loop.
func (s *server) publishStats(stats indexer.Stats) {
	if !s.sse {
		return
	}
	body, err := json.Marshal(stats)
	if err != nil {
		return
	}
	select {
	case s.events <- string(body):
	default:
	}
}

// reindexLoop periodically re-runs the project indexer and publishes
// the resulting stats as an SSE event, giving --transport
// server-sent-events clients a live view of index freshness.
func (s *server) reindexLoop(ctx context.Context, ix *indexer.Indexer) {
	ticker := time.NewTicker(reindexInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := ix.Run(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("periodic reindex failed")
				continue
			}
			s.publishStats(stats)
		}
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/symbols/tree", s.handleSymbolTree)
	mux.HandleFunc("/symbols/file", s.handleDocumentSymbols)
	mux.HandleFunc("/references", s.handleReferences)
	mux.HandleFunc("/rename", s.handleRename)
	if s.sse {
		mux.HandleFunc("/events", s.handleEvents)
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (s *server) handleSymbolTree(w http.ResponseWriter, r *http.Request) {
	within := r.URL.Query().Get("within")
	tree, err := s.q.SymbolTree(within)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, tree)
}

func (s *server) handleDocumentSymbols(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("path is required"))
		return
	}
	doc, err := s.q.DocumentSymbols(path)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, doc)
}

func (s *server) handleReferences(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	line, char, ok := parseLineChar(r)
	if path == "" || !ok {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("path, line, and char are required"))
		return
	}
	refs, err := s.q.References(path, line, char)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, refs)
}

type renameRequest struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Char    int    `json:"character"`
	NewName string `json:"new_name"`
}

func (s *server) handleRename(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	edit, ok, err := s.q.RenameEdit(req.Path, req.Line, req.Char, req.NewName)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("no symbol at the given position"))
		return
	}
	writeJSON(w, edit)
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-s.events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func parseLineChar(r *http.Request) (int, int, bool) {
	line, err1 := strconv.Atoi(r.URL.Query().Get("line"))
	char, err2 := strconv.Atoi(r.URL.Query().Get("character"))
	return line, char, err1 == nil && err2 == nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
