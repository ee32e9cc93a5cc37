package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrosense/agrosense/stream"
	"github.com/agrosense/agrosense/tool"
	"github.com/agrosense/agrosense/types"
	"github.com/agrosense/agrosense/workflow"
)

// scriptedRunner emits a fixed event sequence for any query.
type scriptedRunner struct {
	script func(query types.Query, session *stream.Session)
}

func (r *scriptedRunner) Run(query types.Query, session *stream.Session) *workflow.WorkflowState {
	r.script(query, session)
	return nil
}

func answerRunner(text string) *scriptedRunner {
	return &scriptedRunner{script: func(query types.Query, session *stream.Session) {
		session.Start()
		session.AgentSelected(types.RoleWeather, "confidence 0.90, mode single")
		for _, token := range strings.SplitAfter(text, " ") {
			session.Token(token)
		}
		session.Done(types.FinalAnswer{QueryID: query.ID, Text: text})
	}}
}

func failingRunner(code types.ErrorCode, message string) *scriptedRunner {
	return &scriptedRunner{script: func(query types.Query, session *stream.Session) {
		session.Start()
		session.Fail(code, message)
	}}
}

func newTestServer(t *testing.T, runner QueryRunner) *httptest.Server {
	t.Helper()
	srv := NewServer(runner, tool.NewRegistry(0, 0), NewHealthHandler(nil), ServerOptions{StreamBuffer: 64}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func readSSEEvents(t *testing.T, body *bufio.Reader) []stream.Event {
	t.Helper()
	var events []stream.Event
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			return events
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev stream.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
		if ev.Terminal() {
			return events
		}
	}
}

func TestHandleSSE_StreamsFullProtocol(t *testing.T) {
	ts := newTestServer(t, answerRunner("Grand soleil demain."))

	resp, err := http.Post(ts.URL+"/v1/query", "application/json",
		strings.NewReader(`{"conversation_id":"conv-1","text":"Quelle météo demain ?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := readSSEEvents(t, bufio.NewReader(resp.Body))
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, stream.KindStart, events[0].Kind)
	assert.Equal(t, stream.KindAgentSelected, events[1].Kind)

	last := events[len(events)-1]
	assert.Equal(t, stream.KindDone, last.Kind)
	require.NotNil(t, last.Answer)
	assert.Equal(t, "Grand soleil demain.", last.Answer.Text)

	// seq strictly increases across the wire
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
}

func TestHandleSSE_WorkflowErrorIsStreamed(t *testing.T) {
	ts := newTestServer(t, failingRunner(types.ErrCodeNoUsableResults, "aucun expert disponible"))

	resp, err := http.Post(ts.URL+"/v1/query", "application/json",
		strings.NewReader(`{"text":"question"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readSSEEvents(t, bufio.NewReader(resp.Body))
	last := events[len(events)-1]
	require.Equal(t, stream.KindError, last.Kind)
	require.NotNil(t, last.Err)
	assert.Equal(t, types.ErrCodeNoUsableResults, last.Err.Code)
}

func TestHandleSSE_RejectsEmptyText(t *testing.T) {
	ts := newTestServer(t, answerRunner("unused"))

	resp, err := http.Post(ts.URL+"/v1/query", "application/json", strings.NewReader(`{"text":""}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, string(types.ErrCodeValidation), body.Error.Code)
}

func TestHandleSSE_RejectsOversizedText(t *testing.T) {
	ts := newTestServer(t, answerRunner("unused"))
	huge := strings.Repeat("a", maxQueryLength+1)

	resp, err := http.Post(ts.URL+"/v1/query", "application/json",
		strings.NewReader(`{"text":"`+huge+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleSSE_RejectsGet(t *testing.T) {
	ts := newTestServer(t, answerRunner("unused"))

	resp, err := http.Get(ts.URL + "/v1/query")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleWebSocket_FullProtocol(t *testing.T) {
	ts := newTestServer(t, answerRunner("Pluie jeudi."))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/query/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.NoError(t, conn.Write(ctx, websocket.MessageText,
		[]byte(`{"conversation_id":"conv-1","text":"météo ?"}`)))

	var events []stream.Event
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var ev stream.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		events = append(events, ev)
		if ev.Terminal() {
			break
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, stream.KindStart, events[0].Kind)
	last := events[len(events)-1]
	require.Equal(t, stream.KindDone, last.Kind)
	assert.Equal(t, "Pluie jeudi.", last.Answer.Text)
}

func TestHandleWebSocket_InvalidPayload(t *testing.T) {
	ts := newTestServer(t, answerRunner("unused"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/query/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev stream.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, stream.KindError, ev.Kind)
}

func TestHealthEndpoint(t *testing.T) {
	health := NewHealthHandler(nil)
	health.RegisterCheck(HealthCheckFunc{CheckName: "redis", Fn: func(ctx context.Context) error { return nil }})
	srv := NewServer(answerRunner("x"), tool.NewRegistry(0, 0), health, ServerOptions{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "pass", status.Checks["redis"].Status)
}

func TestToolsEndpoint(t *testing.T) {
	tools := tool.NewRegistry(0, 0)
	require.NoError(t, tools.Register(tool.NewFunc("weather_forecast", 0, nil)))
	srv := NewServer(answerRunner("x"), tools, NewHealthHandler(nil), ServerOptions{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tools")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Data []tool.Schema `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "weather_forecast", body.Data[0].Name)
}
