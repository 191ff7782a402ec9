package chat

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/fieldagent/internal/dialogue"
	"github.com/ashureev/fieldagent/internal/domain"
	"github.com/ashureev/fieldagent/internal/session"
	"github.com/ashureev/fieldagent/internal/store"
)

type fakeSource struct {
	conv  *domain.Conversation
	agent *domain.Agent
}

func (f *fakeSource) GetConversationBySession(_ context.Context, sessionID string) (*domain.Conversation, error) {
	if f.conv == nil || f.conv.SessionID != sessionID {
		return nil, store.ErrNotFound
	}
	return f.conv, nil
}

func (f *fakeSource) GetAgent(_ context.Context, id int64) (*domain.Agent, error) {
	if f.agent == nil || f.agent.ID != id {
		return nil, store.ErrNotFound
	}
	return f.agent, nil
}

type recordingStore struct {
	mu          sync.Mutex
	transcripts int
	fields      int
	completions int
	summary     string
}

func (r *recordingStore) SaveTranscript(context.Context, int64, []domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts++
	return nil
}

func (r *recordingStore) SaveCollectedFields(context.Context, int64, domain.CollectedFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields++
	return nil
}

func (r *recordingStore) SaveCompletion(_ context.Context, _ int64, _ time.Time, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions++
	r.summary = summary
	return nil
}

func (r *recordingStore) completed() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completions, r.summary
}

type testServer struct {
	url   string
	sm    *session.Manager
	saves *recordingStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	agent := &domain.Agent{ID: 3, Name: "Ada", Purpose: "agriculture", Active: true}
	conv := &domain.Conversation{
		ID:        11,
		SessionID: "sess-1",
		AgentID:   agent.ID,
		Transcript: []domain.Message{{
			Sender:    domain.SenderAgent,
			Text:      agent.WelcomeMessage(),
			Timestamp: time.Now(),
			Type:      domain.MessageTypeWelcome,
		}},
	}

	saves := &recordingStore{}
	sm := session.NewManager()
	h := NewHandler(&fakeSource{conv: conv, agent: agent}, sm, dialogue.NewController(saves), nil, true)

	r := chi.NewRouter()
	r.Get("/ws/conversations/{sessionID}", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http"), sm: sm, saves: saves}
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return ws
}

func readFrame(t *testing.T, ctx context.Context, ws *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var frame map[string]any
	if err := sonic.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return frame
}

func send(t *testing.T, ctx context.Context, ws *websocket.Conn, payload string) {
	t.Helper()
	if err := ws.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestChatSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws := dial(t, ctx, ts.url+"/ws/conversations/sess-1")

	info := readFrame(t, ctx, ws)
	if info["type"] != "connection_info" || info["agent_name"] != "Ada" || info["conversation_id"] != float64(11) {
		t.Fatalf("unexpected connection_info: %v", info)
	}
	if info["participant_name"] != nil {
		t.Errorf("participant_name = %v, want null", info["participant_name"])
	}

	welcome := readFrame(t, ctx, ws)
	if welcome["type"] != "welcome" || welcome["sender"] != "agent" {
		t.Fatalf("unexpected welcome frame: %v", welcome)
	}

	waitFor(t, "session registration", func() bool { return ts.sm.Get("sess-1") != nil })

	// Malformed and blank frames are ignored.
	send(t, ctx, ws, "not json")
	send(t, ctx, ws, `{"message":"   "}`)

	send(t, ctx, ws, `{"message":"My name is Alice","type":"text"}`)
	reply := readFrame(t, ctx, ws)
	if reply["message"] != "Nice to meet you, Alice! Could you please tell me your age?" {
		t.Errorf("reply = %v", reply["message"])
	}
	if reply["sender"] != "agent" || reply["type"] != "text" || reply["timestamp"] == nil {
		t.Errorf("unexpected reply frame: %v", reply)
	}

	send(t, ctx, ws, `{"type":"ping"}`)
	if pong := readFrame(t, ctx, ws); pong["type"] != "pong" {
		t.Errorf("expected pong, got %v", pong)
	}

	for _, msg := range []string{"42", "female", "Nairobi, Kenya", "irrigation"} {
		send(t, ctx, ws, `{"message":"`+msg+`"}`)
		readFrame(t, ctx, ws)
	}

	if err := ws.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Logf("close: %v", err)
	}

	waitFor(t, "termination", func() bool {
		n, _ := ts.saves.completed()
		return n == 1
	})
	waitFor(t, "unregister", func() bool { return ts.sm.Get("sess-1") == nil })

	_, summary := ts.saves.completed()
	if !strings.Contains(summary, "Participant: Alice") || !strings.Contains(summary, "Engagement level: Moderate") {
		t.Errorf("unexpected summary:\n%s", summary)
	}
	ts.saves.mu.Lock()
	defer ts.saves.mu.Unlock()
	if ts.saves.fields != 1 {
		t.Errorf("fields saved %d times, want 1", ts.saves.fields)
	}
	// five messages plus the flush at termination
	if ts.saves.transcripts != 6 {
		t.Errorf("transcript saved %d times, want 6", ts.saves.transcripts)
	}
}

func TestChatUnknownConversation(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws := dial(t, ctx, ts.url+"/ws/conversations/missing")
	defer func() { _ = ws.CloseNow() }()

	frame := readFrame(t, ctx, ws)
	if frame["error"] != "Conversation not found" {
		t.Fatalf("unexpected frame: %v", frame)
	}
	if _, _, err := ws.Read(ctx); err == nil {
		t.Fatal("expected connection to close after error frame")
	}
	if ts.sm.Len() != 0 {
		t.Errorf("session registered for unknown conversation")
	}
}

func TestChatSessionClosedByManager(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws := dial(t, ctx, ts.url+"/ws/conversations/sess-1")
	defer func() { _ = ws.CloseNow() }()
	readFrame(t, ctx, ws)
	readFrame(t, ctx, ws)
	waitFor(t, "session registration", func() bool { return ts.sm.Get("sess-1") != nil })

	if !ts.sm.Close("sess-1") {
		t.Fatal("Close returned false for live session")
	}

	waitFor(t, "unregister", func() bool { return ts.sm.Len() == 0 })
	if _, _, err := ws.Read(ctx); err == nil {
		t.Fatal("expected connection to be closed")
	}
	// Only the welcome was exchanged, so nothing is summarized.
	if n, _ := ts.saves.completed(); n != 0 {
		t.Errorf("completions = %d, want 0", n)
	}
}

func TestHandlerWaitReturnsWhenIdle(t *testing.T) {
	h := NewHandler(&fakeSource{}, session.NewManager(), dialogue.NewController(&recordingStore{}), nil, true)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait on idle handler: %v", err)
	}
}
