package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smile69cm/smile69cm/internal/executor"
	"github.com/smile69cm/smile69cm/internal/ledger"
	"github.com/smile69cm/smile69cm/internal/pacing"
	"github.com/smile69cm/smile69cm/internal/platform"
	"github.com/smile69cm/smile69cm/internal/session"
	"github.com/smile69cm/smile69cm/internal/store"
)

type fakeClient struct {
	mu           sync.Mutex
	postID       string
	comments     []platform.Comment
	total        int
	resolveCalls int
	fetchCalls   int
	dmCalls      int
	replyCalls   int
	dmRecipients []string
	replyTexts   []string
}

func (f *fakeClient) ResolvePostID(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	return f.postID, nil
}

func (f *fakeClient) FetchComments(context.Context, string, int) ([]platform.Comment, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	return f.comments, f.total, nil
}

func (f *fakeClient) SendDirectMessage(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmCalls++
	f.dmRecipients = append(f.dmRecipients, userID)
	return nil
}

func (f *fakeClient) PostReply(_ context.Context, _, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replyCalls++
	f.replyTexts = append(f.replyTexts, text)
	return nil
}

func (f *fakeClient) AccountInfo(context.Context) (platform.Account, error) {
	return platform.Account{UserID: "self", Username: "self"}, nil
}

type harness struct {
	runner *Runner
	client *fakeClient
	store  *store.Store
	ledger *ledger.Ledger
	item   store.Item
}

func newHarness(t *testing.T, withMonitorSession bool) *harness {
	t.Helper()
	dir := t.TempDir()

	sessions, err := session.NewManager(filepath.Join(dir, "monitor.json"), filepath.Join(dir, "main.json"))
	if err != nil {
		t.Fatalf("session.NewManager() error = %v", err)
	}
	if withMonitorSession {
		if err := sessions.Persist(session.RoleMonitor, session.Session{Token: "tok-mon"}); err != nil {
			t.Fatalf("Persist(monitor) error = %v", err)
		}
	}
	if err := sessions.Persist(session.RoleMain, session.Session{Token: "tok-main"}); err != nil {
		t.Fatalf("Persist(main) error = %v", err)
	}

	st, err := store.New(filepath.Join(dir, "items.json"), "")
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	item, err := st.Add("drop", "https://example.com/p/AbC123/", "dm text", []string{"link"})
	if err != nil {
		t.Fatalf("store.Add() error = %v", err)
	}

	led, err := ledger.New(filepath.Join(dir, "ledger.json"))
	if err != nil {
		t.Fatalf("ledger.New() error = %v", err)
	}

	noSleep := func(context.Context, time.Duration) error { return nil }
	pace := pacing.New(pacing.WithSleep(noSleep), pacing.WithRand(func(int) int { return 0 }))
	client := &fakeClient{postID: "p1", total: 42}
	exec := executor.New(client, sessions, pace, executor.WithSleep(noSleep), executor.WithRand(func(int) int { return 0 }))

	runner, err := NewRunner(Config{
		Client:    client,
		Store:     st,
		Ledger:    led,
		Executor:  exec,
		Pacing:    pace,
		Sessions:  sessions,
		ReplyText: "Check your DM! \U0001F4E9",
	}, WithSleep(noSleep))
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	return &harness{runner: runner, client: client, store: st, ledger: led, item: item}
}

func TestRunCycleActsOnNewMatchOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.client.comments = []platform.Comment{
		{ID: "c1", UserID: "u1", Username: "alice", Text: "can you send the link please"},
		{ID: "c2", UserID: "u2", Username: "bob", Text: "great photo"},
		{ID: "c3", UserID: "u3", Username: "carol", Text: "link me too"},
	}
	if err := h.ledger.MarkProcessed("c3", h.item.URL); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}

	if err := h.runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if h.client.dmCalls != 1 || h.client.replyCalls != 1 {
		t.Fatalf("dm calls = %d, reply calls = %d, want 1 and 1", h.client.dmCalls, h.client.replyCalls)
	}
	if h.client.dmRecipients[0] != "u1" {
		t.Fatalf("dm recipient = %q, want u1", h.client.dmRecipients[0])
	}
	if h.client.replyTexts[0] != "Check your DM! \U0001F4E9" {
		t.Fatalf("reply text = %q", h.client.replyTexts[0])
	}
	if !h.ledger.AlreadyProcessed("c1", h.item.URL) {
		t.Fatal("matched comment c1 was not recorded in the ledger")
	}

	item, err := h.store.Get(h.item.ID)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if item.PostID != "p1" {
		t.Fatalf("post id = %q, want p1", item.PostID)
	}
	if item.Stats.CommentsSeen != 2 {
		t.Fatalf("comments seen = %d, want 2 (ledgered comment is not recounted)", item.Stats.CommentsSeen)
	}
	if item.Stats.DMs != 1 || item.Stats.Replies != 1 {
		t.Fatalf("stats = %+v, want 1 dm and 1 reply", item.Stats)
	}
	if item.Stats.TotalComments != 42 {
		t.Fatalf("total comments = %d, want 42", item.Stats.TotalComments)
	}
}

func TestRunCycleIsIdempotentAcrossCycles(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.client.comments = []platform.Comment{
		{ID: "c1", UserID: "u1", Username: "alice", Text: "price?"},
	}
	if _, err := h.store.Update(h.item.ID, func(it *store.Item) { it.Keywords = []string{"price"} }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := h.runner.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle() #%d error = %v", i+1, err)
		}
	}
	if h.client.dmCalls != 1 || h.client.replyCalls != 1 {
		t.Fatalf("dm calls = %d, reply calls = %d, want exactly 1 each across cycles", h.client.dmCalls, h.client.replyCalls)
	}
}

func TestRunCycleRejectsConcurrentEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.runner.running.Store(true)
	if err := h.runner.RunCycle(context.Background()); !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("RunCycle() error = %v, want ErrCycleRunning", err)
	}
}

func TestRunCycleRequiresMonitorSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	if err := h.runner.RunCycle(context.Background()); err == nil {
		t.Fatal("RunCycle() succeeded without a monitor session")
	}
	if h.client.fetchCalls != 0 {
		t.Fatalf("fetch calls = %d, want 0", h.client.fetchCalls)
	}
}

func TestRunCycleSkipsDisabledItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.client.comments = []platform.Comment{
		{ID: "c1", UserID: "u1", Username: "alice", Text: "link please"},
	}
	if _, err := h.store.Toggle(h.item.ID); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	if err := h.runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if h.client.fetchCalls != 0 || h.client.dmCalls != 0 {
		t.Fatalf("fetch calls = %d, dm calls = %d, want 0 and 0", h.client.fetchCalls, h.client.dmCalls)
	}
}
