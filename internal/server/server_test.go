package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/codefionn/personachat/internal/backend"
	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/config"
	"github.com/codefionn/personachat/internal/engine"
	"github.com/codefionn/personachat/internal/tokenizer"
)

type cannedBackend struct {
	mu    sync.Mutex
	reply string
}

func (b *cannedBackend) Name() string                 { return "canned" }
func (b *cannedBackend) SupportsStreaming() bool      { return false }
func (b *cannedBackend) SupportsMultigen() bool       { return false }
func (b *cannedBackend) ForcedExampleHeading() string { return "" }

func (b *cannedBackend) ContextCeiling(s config.SamplingConfig) int {
	return s.MaxContext - s.ResponseLength
}

func (b *cannedBackend) Generate(context.Context, *backend.Request) (*backend.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &backend.Result{Text: b.reply}, nil
}

func (b *cannedBackend) GenerateStream(context.Context, *backend.Request, backend.StreamFunc) error {
	return backend.ErrStreamingUnsupported
}

func (b *cannedBackend) Ping(context.Context) error { return nil }

func newTestServer(t *testing.T, reply string) (*Server, *httptest.Server, *chat.Session) {
	t.Helper()

	session := chat.NewSession("Bob")
	id := session.AddCharacter(&chat.CharacterProfile{Name: "Eve"})
	session.SelectCharacter(id)

	eng := engine.New(session, config.Default(), &cannedBackend{reply: reply}, tokenizer.HeuristicEstimator{})
	srv := NewServer(eng.Config(), eng, nil, nil)

	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return srv, ts, session
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func waitForTurns(t *testing.T, session *chat.Session, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if session.Transcript().Len() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("transcript never reached %d turns, got %d", want, session.Transcript().Len())
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestServer(t, "Eve: hi")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		Online bool   `json:"online"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || !body.Online {
		t.Fatalf("unexpected health payload: %+v", body)
	}
}

func TestSendRunsAsync(t *testing.T) {
	_, ts, session := newTestServer(t, "Eve: Nice to meet you!")

	resp := postJSON(t, ts.URL+"/api/chat/send", map[string]string{"text": "Hello!"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	waitForTurns(t, session, 2)

	chatResp, err := http.Get(ts.URL + "/api/chat")
	if err != nil {
		t.Fatal(err)
	}
	defer chatResp.Body.Close()

	var body struct {
		Turns []*chat.Turn `json:"turns"`
	}
	if err := json.NewDecoder(chatResp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(body.Turns))
	}
	if body.Turns[0].Text != "Hello!" || body.Turns[1].Text != "Nice to meet you!" {
		t.Fatalf("unexpected transcript: %q, %q", body.Turns[0].Text, body.Turns[1].Text)
	}
}

func TestQuietIsSynchronous(t *testing.T) {
	_, ts, session := newTestServer(t, "Eve: It is noon.")

	resp := postJSON(t, ts.URL+"/api/chat/quiet", map[string]string{"prompt": "What time is it?"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Text != "It is noon." {
		t.Fatalf("text = %q", body.Text)
	}
	if session.Transcript().Len() != 0 {
		t.Fatal("quiet prompts must not enter the transcript")
	}
}

func TestQuietOffline(t *testing.T) {
	_, ts, session := newTestServer(t, "unused")
	session.SetOnline(false)

	resp := postJSON(t, ts.URL+"/api/chat/quiet", map[string]string{"prompt": "hello?"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestEditAndDeleteTurn(t *testing.T) {
	_, ts, session := newTestServer(t, "unused")
	session.AppendUserTurn("original", "")

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/chat/turns/0",
		bytes.NewReader([]byte(`{"text":"edited"}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("edit status = %d, want 204", resp.StatusCode)
	}
	if got := session.Transcript().At(0).Text; got != "edited" {
		t.Fatalf("turn text = %q", got)
	}

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/chat/turns/last", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if session.Transcript().Len() != 0 {
		t.Fatal("turn was not deleted")
	}
}

func TestAddCharacterWithoutStore(t *testing.T) {
	_, ts, session := newTestServer(t, "unused")

	resp := postJSON(t, ts.URL+"/api/characters", map[string]string{"name": "Ada"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.ID == "" {
		t.Fatal("missing character id")
	}
	if c := session.Character(body.ID); c == nil || c.Name != "Ada" {
		t.Fatalf("character not registered: %+v", c)
	}
}

func TestSelectCharacterSeedsGreeting(t *testing.T) {
	_, ts, session := newTestServer(t, "unused")
	id := session.AddCharacter(&chat.CharacterProfile{
		Name:         "Ada",
		FirstMessage: "Hello {{user}}.",
	})

	resp := postJSON(t, ts.URL+"/api/characters/"+id+"/select", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	tr := session.Transcript()
	if tr.Len() != 1 || tr.Last().Text != "Hello Bob." {
		t.Fatalf("greeting not seeded: %v", tr.Turns())
	}
}

func TestSelectUnknownGroup(t *testing.T) {
	_, ts, _ := newTestServer(t, "unused")

	resp := postJSON(t, ts.URL+"/api/groups/nope/select", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUpdateConfigMergesFields(t *testing.T) {
	srv, ts, _ := newTestServer(t, "unused")

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/config",
		bytes.NewReader([]byte(`{"sampling":{"temperature":0.5}}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	cfg := srv.engine.Config()
	if cfg.Sampling.Temperature != 0.5 {
		t.Fatalf("temperature = %v, want 0.5", cfg.Sampling.Temperature)
	}
	if cfg.Sampling.ResponseLength != 250 {
		t.Fatalf("untouched fields must survive a partial update, got %d", cfg.Sampling.ResponseLength)
	}
}
