// Package buildstatus exposes a debugging/automation HTTP surface over a
// running pipeline.Pipeline: Prometheus-style metrics, the current phase as
// JSON, and a websocket stream of BuildLog lines. It observes the pipeline
// and its BuildLog as an ordinary subscriber — the pipeline core has no
// knowledge this package exists, and a caller that never constructs a
// Server loses nothing.
package buildstatus

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ide-tools/buildpipeline/pipeline"
)

// Server is an http.Handler exposing /metrics, /phase, and /log for a
// single pipeline. Construct with New, mount at any path via Router, and
// serve it however the caller likes (net/http, httptest, ...).
type Server struct {
	pipe   *pipeline.Pipeline
	router chi.Router
	set    *metrics.Set

	executedCounter *metrics.Counter
	skippedCounter  *metrics.Counter
	failedCounter   *metrics.Counter
	durationHist    *metrics.Histogram

	upgrader websocket.Upgrader

	connMu sync.Mutex
	conns  map[*websocket.Conn]*sync.Mutex
}

type logFrame struct {
	Stream    string    `json:"stream"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds a Server over p, subscribing to its stage results and
// BuildLog immediately. The metrics set is private to this Server so that
// multiple Servers (e.g. one per pipeline run in a test) don't collide on
// the global VictoriaMetrics default set.
func New(p *pipeline.Pipeline) *Server {
	set := metrics.NewSet()

	s := &Server{
		pipe:            p,
		set:             set,
		executedCounter: set.NewCounter(`buildpipe_stages_total{outcome="executed"}`),
		skippedCounter:  set.NewCounter(`buildpipe_stages_total{outcome="skipped"}`),
		failedCounter:   set.NewCounter(`buildpipe_stages_total{outcome="failed"}`),
		durationHist:    set.NewHistogram(`buildpipe_stage_duration_seconds`),
		conns:           make(map[*websocket.Conn]*sync.Mutex),
	}

	p.OnStageResult(s.observeStageResult)
	p.BuildLog().Subscribe(s.broadcastLog)

	r := chi.NewRouter()
	r.Get("/metrics", s.handleMetrics)
	r.Get("/phase", s.handlePhase)
	r.Get("/log", s.handleLog)
	s.router = r

	return s
}

// Router returns the underlying chi.Router, for mounting under a larger
// http.ServeMux or composing with other middleware.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) observeStageResult(result pipeline.StageResult) {
	switch result.Outcome {
	case pipeline.StageExecuted:
		s.executedCounter.Inc()
		s.durationHist.Update(result.Duration.Seconds())
	case pipeline.StageFailed:
		s.failedCounter.Inc()
		s.durationHist.Update(result.Duration.Seconds())
	default:
		s.skippedCounter.Inc()
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.set.WritePrometheus(w)
}

func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Phase string `json:"phase"`
	}{Phase: s.pipe.CurrentPhase().String()})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	writeMu := &sync.Mutex{}
	s.connMu.Lock()
	s.conns[conn] = writeMu
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	// Block on reads purely to notice the client disconnecting; this
	// endpoint never accepts client-sent frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcastLog fans a BuildLog line out to every connected websocket
// client. It is called synchronously from BuildLog.Log, so writes use a
// short deadline and a dead/slow connection is dropped rather than
// blocking the build.
func (s *Server) broadcastLog(stream pipeline.Stream, line string) {
	frame, err := json.Marshal(logFrame{Stream: stream.String(), Text: line, Timestamp: time.Now()})
	if err != nil {
		return
	}

	s.connMu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for conn, mu := range s.conns {
		targets[conn] = mu
	}
	s.connMu.Unlock()

	for conn, mu := range targets {
		mu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		err := conn.WriteMessage(websocket.TextMessage, frame)
		mu.Unlock()

		if err != nil {
			s.connMu.Lock()
			delete(s.conns, conn)
			s.connMu.Unlock()
			conn.Close()
		}
	}
}
