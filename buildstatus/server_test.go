package buildstatus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ide-tools/buildpipeline/pipeline"
)

type trivialStage struct {
	pipeline.StageBase
}

func newTrivialStage(name string) *trivialStage {
	s := &trivialStage{}
	s.StageBase = pipeline.NewStageBase(name, s, false)
	return s
}

func (s *trivialStage) Execute(ctx context.Context, p *pipeline.Pipeline) error { return nil }

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	dir := t.TempDir()
	return pipeline.New(dir, filepath.Join(dir, "build"), pipeline.Configuration{ID: "test"}, zerolog.Nop())
}

func TestPhaseEndpointReportsCurrentPhase(t *testing.T) {
	p := newTestPipeline(t)
	p.Attach(pipeline.PhaseBuild, 0, newTrivialStage("build"))
	require.NoError(t, p.RequestPhase(pipeline.PhaseBuild))
	require.NoError(t, p.ExecuteAsync(context.Background()))

	s := New(p)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/phase")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Phase string `json:"phase"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "FINISHED", body.Phase)
}

func TestMetricsEndpointReportsStageCounters(t *testing.T) {
	p := newTestPipeline(t)
	p.Attach(pipeline.PhaseBuild, 0, newTrivialStage("build"))

	s := New(p)
	srv := httptest.NewServer(s)
	defer srv.Close()

	require.NoError(t, p.RequestPhase(pipeline.PhaseBuild))
	require.NoError(t, p.ExecuteAsync(context.Background()))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `buildpipe_stages_total{outcome="executed"}`)
}

func TestLogEndpointStreamsBuildLogLines(t *testing.T) {
	p := newTestPipeline(t)
	logStage := newTrivialStage("logger")
	p.Attach(pipeline.PhaseBuild, 0, logStage)

	s := New(p)
	srv := httptest.NewServer(s)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/log"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	logStage.Log(pipeline.Stdout, "hello from build")

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame logFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "stdout", frame.Stream)
	assert.Equal(t, "hello from build", frame.Text)
}
