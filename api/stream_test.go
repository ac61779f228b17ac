package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/jeajq/jobtracker/board"
	"github.com/jeajq/jobtracker/domain"
)

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamBoardSendsSessionThenBoard(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/board/stream?token=user1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	first := readEvent(t, r)
	if first.name != "session" {
		t.Fatalf("expected session event first, got %q", first.name)
	}
	var se sessionEvent
	if err := sonic.UnmarshalString(first.data, &se); err != nil || se.SessionID == "" {
		t.Fatalf("bad session event %q: %v", first.data, err)
	}

	second := readEvent(t, r)
	if second.name != "board" {
		t.Fatalf("expected board event, got %q", second.name)
	}
	var v board.View
	if err := sonic.UnmarshalString(second.data, &v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if ids := cardIDs(v, domain.StatusApplied); len(ids) != 2 {
		t.Fatalf("unexpected applied column %v", ids)
	}

	move := s.do(http.MethodPost, "/api/board/sessions/"+se.SessionID+"/move", "user1",
		`{"from":{"status":"applied","index":0},"to":{"status":"rejected"}}`)
	if move.Code != http.StatusOK {
		t.Fatalf("move failed: %d %s", move.Code, move.Body.String())
	}
	third := readEvent(t, r)
	if err := sonic.UnmarshalString(third.data, &v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if ids := cardIDs(v, domain.StatusRejected); len(ids) != 1 || ids[0] != "a0" {
		t.Fatalf("expected moved card in stream, got %v", ids)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for s.sessions.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not closed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamBoardRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/board/stream", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if s.sessions.Len() != 0 {
		t.Fatal("session opened without auth")
	}
}

func TestSessionPushKeepsLatestView(t *testing.T) {
	sess := &Session{views: make(chan board.View, 1)}
	sess.push(board.View{Version: 1})
	sess.push(board.View{Version: 2})
	select {
	case v := <-sess.Views():
		if v.Version != 2 {
			t.Fatalf("expected latest view, got %d", v.Version)
		}
	default:
		t.Fatal("expected a queued view")
	}
}

func TestSessionsGetChecksOwner(t *testing.T) {
	s := newTestServer(t)
	sess := s.open(t, "user1")
	if _, err := s.sessions.Get(sess.ID, "user2"); err != errSessionForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := s.sessions.Get("nope", "user1"); err != errSessionNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	s.sessions.Close(sess.ID)
	s.sessions.Close(sess.ID)
	if s.sessions.Len() != 0 {
		t.Fatalf("expected no sessions, got %d", s.sessions.Len())
	}
}
