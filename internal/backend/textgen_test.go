package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/codefionn/personachat/internal/config"
)

func TestTextGenGenerate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"results":[{"text":" hello back"}]}`))
	}))
	defer ts.Close()

	tg, err := NewTextGen(&config.BackendConfig{BaseURL: ts.URL})
	if err != nil {
		t.Fatal(err)
	}

	res, err := tg.Generate(context.Background(), &Request{Prompt: "Bob: hi\nEve:"})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.Text != " hello back" {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestTextGenErrorFlag(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":[],"error":true}`))
	}))
	defer ts.Close()

	tg, err := NewTextGen(&config.BackendConfig{BaseURL: ts.URL})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tg.Generate(context.Background(), &Request{}); err == nil {
		t.Fatal("an error payload must fail the generation")
	}
}

func TestTextGenStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing event-stream accept header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"text\":\"Hel\",\"done\":false}\n\n"))
		w.Write([]byte(": keepalive comment\n\n"))
		w.Write([]byte("data: {\"text\":\"lo!\",\"done\":false}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer ts.Close()

	tg, err := NewTextGen(&config.BackendConfig{BaseURL: ts.URL, StreamingURL: ts.URL + "/stream"})
	if err != nil {
		t.Fatal(err)
	}
	if !tg.SupportsStreaming() {
		t.Fatal("a configured streaming URL enables streaming")
	}

	var got []string
	err = tg.GenerateStream(context.Background(), &Request{Prompt: "p"}, func(delta string) error {
		got = append(got, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream() error: %v", err)
	}
	if want := []string{"Hel", "lo!"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("deltas = %v, want %v", got, want)
	}
}

func TestTextGenStreamDoneFlag(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("data: {\"text\":\"all of it\",\"done\":true}\n\n"))
		w.Write([]byte("data: {\"text\":\"never seen\",\"done\":false}\n\n"))
	}))
	defer ts.Close()

	tg, err := NewTextGen(&config.BackendConfig{BaseURL: ts.URL, StreamingURL: ts.URL})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	err = tg.GenerateStream(context.Background(), &Request{}, func(delta string) error {
		got = append(got, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateStream() error: %v", err)
	}
	if len(got) != 1 || got[0] != "all of it" {
		t.Fatalf("deltas = %v", got)
	}
}

func TestTextGenStreamCallbackAborts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("data: {\"text\":\"chunk\",\"done\":false}\n\n"))
	}))
	defer ts.Close()

	tg, err := NewTextGen(&config.BackendConfig{BaseURL: ts.URL, StreamingURL: ts.URL})
	if err != nil {
		t.Fatal(err)
	}

	sentinel := errors.New("stop now")
	err = tg.GenerateStream(context.Background(), &Request{}, func(string) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("GenerateStream() error = %v, want the callback error", err)
	}
}

func TestTextGenStreamWithoutURL(t *testing.T) {
	tg, err := NewTextGen(&config.BackendConfig{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	err = tg.GenerateStream(context.Background(), &Request{}, func(string) error { return nil })
	if !errors.Is(err, ErrStreamingUnsupported) {
		t.Fatalf("GenerateStream() error = %v, want ErrStreamingUnsupported", err)
	}
}
