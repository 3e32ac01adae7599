package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestClient_Send_PostsExpectedRequest(t *testing.T) {
	var got sendEmailRequest
	var gotToken, gotPath, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get(HeaderServerToken)
		gotCT = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "news@example.com", "secret-token", time.Second)
	err := c.Send(context.Background(), "reader@example.com", "Subject", "<p>H</p>", "H")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPath != "/email" {
		t.Fatalf("path = %q; want /email", gotPath)
	}
	if gotToken != "secret-token" {
		t.Fatalf("token header = %q", gotToken)
	}
	if gotCT != "application/json" {
		t.Fatalf("content-type = %q", gotCT)
	}
	want := sendEmailRequest{From: "news@example.com", To: "reader@example.com", Subject: "Subject", HtmlBody: "<p>H</p>", TextBody: "H"}
	if got != want {
		t.Fatalf("payload = %+v; want %+v", got, want)
	}
}

func TestClient_Send_Non2xxIsSendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox full", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "news@example.com", "t", time.Second)
	err := c.Send(context.Background(), "reader@example.com", "s", "h", "t")

	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SendError, got %T %v", err, err)
	}
	if se.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(se.Body, "mailbox full") {
		t.Fatalf("unexpected SendError %+v", se)
	}
}

func TestClient_Send_TimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, "news@example.com", "t", 50*time.Millisecond)
	start := time.Now()
	if err := c.Send(context.Background(), "reader@example.com", "s", "h", "t"); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("client did not honour its timeout")
	}
}

func TestLogSender_LogsAndSucceeds(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	if err := (LogSender{}).Send(context.Background(), "reader@example.com", "Hello", "<p>x</p>", "x"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"to":"reader@example.com"`) || !strings.Contains(out, `"subject":"Hello"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}

var (
	_ Sender = (*Client)(nil)
	_ Sender = LogSender{}
)
