package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/neuralhub/neuralhub/internal/credential"
	"github.com/neuralhub/neuralhub/internal/quota"
	"github.com/neuralhub/neuralhub/internal/storage"
)

// fakeResponder is a controllable Responder double.
type fakeResponder struct {
	reply  string
	err    error
	onCall func()
	calls  int
}

func (f *fakeResponder) Respond(ctx context.Context, userText, modelID string) (string, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "reply to " + userText, nil
}

type chatFixture struct {
	store     *Store
	db        *storage.Store
	creds     *credential.Store
	gate      *quota.Gate
	responder *fakeResponder
}

func newFixture(t *testing.T, maxFree int) *chatFixture {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	creds := credential.NewStore(db, nil)
	gate := quota.NewGate(db, maxFree)
	resp := &fakeResponder{}
	return &chatFixture{
		store:     NewStore(db, creds, gate, resp, nil, ""),
		db:        db,
		creds:     creds,
		gate:      gate,
		responder: resp,
	}
}

func TestCreateConversationNumbering(t *testing.T) {
	f := newFixture(t, 10)

	for want := 1; want <= 3; want++ {
		conv, err := f.store.CreateConversation("")
		if err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
		wantTitle := fmt.Sprintf("New Conversation %d", want)
		if conv.Title != wantTitle {
			t.Errorf("title = %q, want %q", conv.Title, wantTitle)
		}
	}

	list, err := f.store.Conversations()
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("conversation count = %d, want 3", len(list))
	}
	// Head insertion: the last created is first.
	if list[0].Title != "New Conversation 3" {
		t.Errorf("head title = %q, want the most recent", list[0].Title)
	}

	active, ok, err := f.store.ActiveConversation()
	if err != nil || !ok {
		t.Fatalf("ActiveConversation = (_, %v, %v)", ok, err)
	}
	if active.ID != list[0].ID {
		t.Errorf("active conversation is %q, want the newest %q", active.ID, list[0].ID)
	}
}

func TestCreateConversationExplicitTitle(t *testing.T) {
	f := newFixture(t, 10)

	conv, err := f.store.CreateConversation("Weekend plans")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.Title != "Weekend plans" {
		t.Errorf("title = %q, want explicit title", conv.Title)
	}
	if conv.Model != f.store.ActiveModel() {
		t.Errorf("conversation model = %q, want active model %q", conv.Model, f.store.ActiveModel())
	}
}

func TestAppendDerivesTitle(t *testing.T) {
	f := newFixture(t, 10)

	short := "short question"
	if _, err := f.store.AppendMessage(short, storage.RoleUser, ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	conv, ok, err := f.store.ActiveConversation()
	if err != nil || !ok {
		t.Fatalf("ActiveConversation = (_, %v, %v)", ok, err)
	}
	if conv.Title != short {
		t.Errorf("title = %q, want %q (no ellipsis under 30 chars)", conv.Title, short)
	}

	// A second user message never re-derives the title.
	if _, err := f.store.AppendMessage("something entirely different", storage.RoleUser, ""); err != nil {
		t.Fatalf("second AppendMessage: %v", err)
	}
	conv, _, _ = f.store.ActiveConversation()
	if conv.Title != short {
		t.Errorf("title changed to %q after second message", conv.Title)
	}
}

func TestAppendTruncatesLongTitle(t *testing.T) {
	f := newFixture(t, 10)

	long := strings.Repeat("a", 31)
	if _, err := f.store.AppendMessage(long, storage.RoleUser, ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	conv, _, _ := f.store.ActiveConversation()
	want := strings.Repeat("a", 30) + "..."
	if conv.Title != want {
		t.Errorf("title = %q, want %q", conv.Title, want)
	}
}

func TestAppendExactly30NoEllipsis(t *testing.T) {
	f := newFixture(t, 10)

	exact := strings.Repeat("b", 30)
	if _, err := f.store.AppendMessage(exact, storage.RoleUser, ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	conv, _, _ := f.store.ActiveConversation()
	if conv.Title != exact {
		t.Errorf("title = %q, want untruncated %q", conv.Title, exact)
	}
}

func TestAssistantFirstMessageKeepsDefaultTitle(t *testing.T) {
	f := newFixture(t, 10)

	if _, err := f.store.AppendMessage("greetings", storage.RoleAssistant, ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	conv, _, _ := f.store.ActiveConversation()
	if conv.Title != "New Conversation 1" {
		t.Errorf("title = %q, want auto-numbered default", conv.Title)
	}
}

func TestDanglingActivePointer(t *testing.T) {
	f := newFixture(t, 10)

	if err := f.store.SetActiveConversation("no-such-id"); err != nil {
		t.Fatalf("SetActiveConversation: %v", err)
	}
	if _, ok, err := f.store.ActiveConversation(); err != nil || ok {
		t.Errorf("dangling pointer resolved to (%v, %v), want (false, nil)", ok, err)
	}

	// Appending with a dangling pointer creates a fresh conversation.
	if _, err := f.store.AppendMessage("hi", storage.RoleUser, ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, ok, _ := f.store.ActiveConversation(); !ok {
		t.Error("no active conversation after append")
	}
}

// TestSendMessageFreeTier walks the free-tier path end to end: empty
// credential store, one free unit left.
func TestSendMessageFreeTier(t *testing.T) {
	f := newFixture(t, 10)

	for i := 0; i < 9; i++ {
		if _, err := f.gate.Increment(); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}

	msg, err := f.store.SendMessage(context.Background(), "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Role != storage.RoleAssistant {
		t.Errorf("returned message role = %q, want assistant", msg.Role)
	}
	if got := f.gate.CurrentUsage(); got != 10 {
		t.Errorf("usage after send = %d, want 10", got)
	}

	conv, _, _ := f.store.ActiveConversation()
	if len(conv.Messages) != 2 {
		t.Fatalf("message count = %d, want user + assistant", len(conv.Messages))
	}
	if conv.Messages[0].Role != storage.RoleUser || conv.Messages[0].Content != "hi" {
		t.Errorf("first message = %+v, want user \"hi\"", conv.Messages[0])
	}
	if conv.Messages[1].Role != storage.RoleAssistant {
		t.Errorf("second message role = %q, want assistant", conv.Messages[1].Role)
	}

	// Quota is exhausted: the next send aborts before the responder and
	// appends no assistant message.
	calls := f.responder.calls
	_, err = f.store.SendMessage(context.Background(), "again")
	if !errors.Is(err, ErrNoKeyOrQuota) {
		t.Fatalf("second SendMessage = %v, want ErrNoKeyOrQuota", err)
	}
	if f.responder.calls != calls {
		t.Error("responder invoked despite exhausted quota")
	}
	if got := f.gate.CurrentUsage(); got != 10 {
		t.Errorf("usage after aborted send = %d, want unchanged 10", got)
	}

	conv, _, _ = f.store.ActiveConversation()
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != storage.RoleUser || last.Content != "again" {
		t.Errorf("aborted send lost the user message: last = %+v", last)
	}
}

// TestSendMessageWithCredential verifies an active key is preferred and no
// free-tier quota is consumed.
func TestSendMessageWithCredential(t *testing.T) {
	f := newFixture(t, 10)

	if _, err := f.creds.Add("openai", "sk-mine"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := f.store.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := f.gate.CurrentUsage(); got != 0 {
		t.Errorf("usage = %d with own key, want 0", got)
	}
}

// TestSendMessageInactiveCredentialFallsBack verifies a deactivated key is
// skipped in favor of the free tier.
func TestSendMessageInactiveCredentialFallsBack(t *testing.T) {
	f := newFixture(t, 10)

	c, err := f.creds.Add("openai", "sk-mine")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := f.creds.Toggle(c.ID); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	if _, err := f.store.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := f.gate.CurrentUsage(); got != 1 {
		t.Errorf("usage = %d, want 1 (free tier used)", got)
	}
}

// TestSendMessageResponderFailure verifies a responder error keeps the user
// message, appends nothing else, and clears the loading flag.
func TestSendMessageResponderFailure(t *testing.T) {
	f := newFixture(t, 10)
	f.responder.err = errors.New("upstream unavailable")

	_, err := f.store.SendMessage(context.Background(), "hi")
	if err == nil {
		t.Fatal("SendMessage succeeded with failing responder")
	}

	conv, _, _ := f.store.ActiveConversation()
	if len(conv.Messages) != 1 {
		t.Fatalf("message count = %d, want 1 (user message only)", len(conv.Messages))
	}
	if conv.Messages[0].Role != storage.RoleUser {
		t.Errorf("surviving message role = %q, want user", conv.Messages[0].Role)
	}
	if f.store.Loading() {
		t.Error("loading still set after failure")
	}
}

// TestSendMessageRejectsReentrant verifies a second send while one is in
// flight fails fast without touching history or quota.
func TestSendMessageRejectsReentrant(t *testing.T) {
	f := newFixture(t, 10)

	started := make(chan struct{})
	release := make(chan struct{})
	f.responder.onCall = func() {
		close(started)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.store.SendMessage(context.Background(), "first")
		done <- err
	}()

	<-started
	if !f.store.Loading() {
		t.Error("Loading = false while a send is in flight")
	}
	_, err := f.store.SendMessage(context.Background(), "second")
	if !errors.Is(err, ErrSendInFlight) {
		t.Errorf("re-entrant SendMessage = %v, want ErrSendInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first SendMessage: %v", err)
	}
	if f.store.Loading() {
		t.Error("loading still set after completion")
	}
	if got := f.gate.CurrentUsage(); got != 1 {
		t.Errorf("usage = %d, want 1 (no double consumption)", got)
	}
}

// TestDeleteActiveConversationClearsPointer deletes the conversation the
// session pointer references.
func TestDeleteActiveConversationClearsPointer(t *testing.T) {
	f := newFixture(t, 10)

	conv, err := f.store.CreateConversation("")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := f.store.DeleteConversation(conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, ok, err := f.store.ActiveConversation(); err != nil || ok {
		t.Errorf("ActiveConversation after delete = (%v, %v), want none", ok, err)
	}
}

func TestDeleteInactiveKeepsPointer(t *testing.T) {
	f := newFixture(t, 10)

	first, _ := f.store.CreateConversation("")
	second, _ := f.store.CreateConversation("")

	if err := f.store.DeleteConversation(first.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	active, ok, _ := f.store.ActiveConversation()
	if !ok || active.ID != second.ID {
		t.Errorf("active after deleting inactive = (%v, %q), want %q", ok, active.ID, second.ID)
	}
}

func TestDeleteMissingIsNoOp(t *testing.T) {
	f := newFixture(t, 10)
	if err := f.store.DeleteConversation("no-such-id"); err != nil {
		t.Errorf("DeleteConversation on missing id = %v, want nil", err)
	}
}

func TestClearAll(t *testing.T) {
	f := newFixture(t, 10)

	for i := 0; i < 3; i++ {
		if _, err := f.store.CreateConversation(""); err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
	}
	if err := f.store.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	list, err := f.store.Conversations()
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("conversation count after ClearAll = %d, want 0", len(list))
	}
	if _, ok, _ := f.store.ActiveConversation(); ok {
		t.Error("active conversation survived ClearAll")
	}
}

func TestRenameConversation(t *testing.T) {
	f := newFixture(t, 10)

	conv, _ := f.store.CreateConversation("")
	if err := f.store.RenameConversation(conv.ID, "Renamed"); err != nil {
		t.Fatalf("RenameConversation: %v", err)
	}
	got, err := f.store.Conversation(conv.ID)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if got.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", got.Title)
	}

	// Empty title and unknown id are silent no-ops.
	if err := f.store.RenameConversation(conv.ID, ""); err != nil {
		t.Errorf("empty rename = %v, want nil", err)
	}
	if err := f.store.RenameConversation("no-such-id", "x"); err != nil {
		t.Errorf("rename of missing id = %v, want nil", err)
	}
	got, _ = f.store.Conversation(conv.ID)
	if got.Title != "Renamed" {
		t.Errorf("empty rename changed title to %q", got.Title)
	}
}

func TestActiveModelDefaultAndPersistence(t *testing.T) {
	f := newFixture(t, 10)

	if got := f.store.ActiveModel(); got != "openai:gpt-4o" {
		t.Errorf("first-run ActiveModel = %q, want catalog default", got)
	}

	if err := f.store.SetActiveModel("mistral:mistral-large"); err != nil {
		t.Fatalf("SetActiveModel: %v", err)
	}
	if got := f.store.ActiveModel(); got != "mistral:mistral-large" {
		t.Errorf("ActiveModel = %q after set", got)
	}

	// The selection lives in session state, independent of conversations.
	if err := f.store.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if got := f.store.ActiveModel(); got != "mistral:mistral-large" {
		t.Errorf("ActiveModel = %q after ClearAll, want unchanged", got)
	}
}
