package intake

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/chat"
	"github.com/spigell/hr-intake/internal/progress"
)

type sentMessage struct {
	user chat.UserID
	text string
	ref  chat.MessageRef
}

type fakeTransport struct {
	mu sync.Mutex

	seq      int
	sent     []sentMessage
	choices  map[chat.MessageRef][]string
	status   map[chat.UserID]chat.DeliveryStatus
	members  map[chat.UserID]*chat.Member
	byName   map[string]*chat.Member
	marks    map[chat.MessageRef][]string
	replies  []string
	reviews  []chat.ReviewPost
	granted  map[chat.UserID][]string
	nickname map[chat.UserID]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		choices:  map[chat.MessageRef][]string{},
		status:   map[chat.UserID]chat.DeliveryStatus{},
		members:  map[chat.UserID]*chat.Member{},
		byName:   map[string]*chat.Member{},
		marks:    map[chat.MessageRef][]string{},
		granted:  map[chat.UserID][]string{},
		nickname: map[chat.UserID]string{},
	}
}

func (f *fakeTransport) addMember(id chat.UserID, name string) *chat.Member {
	m := &chat.Member{ID: id, DisplayName: name, Mention: "<@" + string(id) + ">"}
	f.members[id] = m
	f.byName[name] = m
	return m
}

func (f *fakeTransport) SendDirect(_ context.Context, user chat.UserID, text string) chat.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()

	if st := f.status[user]; st != chat.Delivered {
		return chat.Delivery{Status: st, Err: errors.New(st.String())}
	}

	f.seq++
	ref := chat.MessageRef(fmt.Sprintf("m%d", f.seq))
	f.sent = append(f.sent, sentMessage{user: user, text: text, ref: ref})
	return chat.Delivery{Status: chat.Delivered, Ref: ref}
}

func (f *fakeTransport) AddChoices(_ context.Context, _ chat.UserID, prompt chat.MessageRef, tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.choices[prompt] = append([]string(nil), tokens...)
	return nil
}

func (f *fakeTransport) Member(_ context.Context, user chat.UserID) (*chat.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.members[user]; ok {
		return m, nil
	}
	return nil, chat.ErrMemberNotFound
}

func (f *fakeTransport) FindMember(_ context.Context, tag string) (*chat.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.byName[tag]; ok {
		return m, nil
	}
	return nil, chat.ErrMemberNotFound
}

func (f *fakeTransport) GrantRoles(_ context.Context, user chat.UserID, roles []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.granted[user] = append(f.granted[user], roles...)
	return nil
}

func (f *fakeTransport) SetDisplayName(_ context.Context, user chat.UserID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nickname[user] = name
	return nil
}

func (f *fakeTransport) MarkSource(_ context.Context, source chat.MessageRef, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.marks[source] = append(f.marks[source], emoji)
	return nil
}

func (f *fakeTransport) ReplySource(_ context.Context, _ chat.MessageRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeTransport) PostReview(_ context.Context, post chat.ReviewPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reviews = append(f.reviews, post)
	return nil
}

func (f *fakeTransport) sentTo(user chat.UserID) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []sentMessage
	for _, m := range f.sent {
		if m.user == user {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) lastRef(user chat.UserID) chat.MessageRef {
	msgs := f.sentTo(user)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].ref
}

type recordingFinisher struct {
	mu          sync.Mutex
	completions []Completion
	onFinish    func(c Completion)
}

func (r *recordingFinisher) Finish(_ context.Context, c Completion) {
	r.mu.Lock()
	r.completions = append(r.completions, c)
	hook := r.onFinish
	r.mu.Unlock()

	if hook != nil {
		hook(c)
	}
}

func (r *recordingFinisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completions)
}

type recordingAlerts struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingAlerts) Notify(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.texts = append(r.texts, text)
	return nil
}

type stubMembership struct {
	blacklisted map[chat.UserID]bool
	declined    map[chat.UserID]bool
}

func (s stubMembership) IsBlacklisted(user chat.UserID) bool        { return s.blacklisted[user] }
func (s stubMembership) IsPreviouslyDeclined(user chat.UserID) bool { return s.declined[user] }

type harness struct {
	path      string
	transport *fakeTransport
	finisher  *recordingFinisher
	alerts    *recordingAlerts
	service   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		path:      filepath.Join(t.TempDir(), "progress.json"),
		transport: newFakeTransport(),
		finisher:  &recordingFinisher{},
		alerts:    &recordingAlerts{},
	}
	h.service = h.build(Deps{})
	return h
}

// build creates a service over the harness file, as a fresh process would.
func (h *harness) build(deps Deps) *Service {
	store := progress.NewStore(progress.NewFile(h.path), zap.NewNop())
	deps.Tracker = progress.NewTracker(store, zap.NewNop())
	deps.Transport = h.transport
	deps.Finisher = h.finisher
	deps.Alerts = h.alerts
	return New(deps)
}

func (h *harness) session(t *testing.T, user chat.UserID) *progress.Session {
	t.Helper()

	s, ok := h.service.tracker.Get(user)
	if !ok {
		t.Fatalf("expected a session for %s", user)
	}
	return s
}
