package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/hr-intake/internal/ai"
	"github.com/spigell/hr-intake/internal/chat"
	"github.com/spigell/hr-intake/internal/intake"
	"github.com/spigell/hr-intake/internal/questionnaire"
	"github.com/spigell/hr-intake/internal/scoring"
)

type fakeTransport struct {
	mu sync.Mutex

	seq      int
	status   map[chat.UserID]chat.DeliveryStatus
	dms      map[chat.UserID][]string
	marks    []string
	replies  []string
	reviews  []chat.ReviewPost
	granted  map[chat.UserID][]string
	nickname map[chat.UserID]string

	grantErr  error
	reviewErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		status:   map[chat.UserID]chat.DeliveryStatus{},
		dms:      map[chat.UserID][]string{},
		granted:  map[chat.UserID][]string{},
		nickname: map[chat.UserID]string{},
	}
}

func (f *fakeTransport) SendDirect(_ context.Context, user chat.UserID, text string) chat.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()

	if st := f.status[user]; st != chat.Delivered {
		return chat.Delivery{Status: st, Err: errors.New("cannot send")}
	}
	f.seq++
	f.dms[user] = append(f.dms[user], text)
	return chat.Delivery{Status: chat.Delivered, Ref: chat.MessageRef(fmt.Sprintf("dm%d", f.seq))}
}

func (f *fakeTransport) AddChoices(context.Context, chat.UserID, chat.MessageRef, []string) error {
	return nil
}

func (f *fakeTransport) Member(_ context.Context, user chat.UserID) (*chat.Member, error) {
	return &chat.Member{ID: user, DisplayName: "chris", Mention: "<@" + string(user) + ">"}, nil
}

func (f *fakeTransport) FindMember(context.Context, string) (*chat.Member, error) {
	return nil, chat.ErrMemberNotFound
}

func (f *fakeTransport) GrantRoles(_ context.Context, user chat.UserID, roles []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.grantErr != nil {
		return f.grantErr
	}
	f.granted[user] = append(f.granted[user], roles...)
	return nil
}

func (f *fakeTransport) SetDisplayName(_ context.Context, user chat.UserID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nickname[user] = name
	return nil
}

func (f *fakeTransport) MarkSource(_ context.Context, _ chat.MessageRef, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.marks = append(f.marks, emoji)
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

	if f.reviewErr != nil {
		return f.reviewErr
	}
	f.reviews = append(f.reviews, post)
	return nil
}

type fixedScorer struct {
	result scoring.Result
	calls  int
}

func (s *fixedScorer) Evaluate(questionnaire.Answers) scoring.Result {
	s.calls++
	return s.result
}

type fakeMembership struct {
	blacklisted bool
	declined    bool
	recorded    []chat.UserID
}

func (m *fakeMembership) IsBlacklisted(chat.UserID) bool        { return m.blacklisted }
func (m *fakeMembership) IsPreviouslyDeclined(chat.UserID) bool { return m.declined }
func (m *fakeMembership) RecordDeclined(user chat.UserID) error {
	m.recorded = append(m.recorded, user)
	return nil
}

type fakeScheduler struct{ users []chat.UserID }

func (s *fakeScheduler) Schedule(_ context.Context, user chat.UserID) error {
	s.users = append(s.users, user)
	return nil
}

type fakeAlerts struct{ texts []string }

func (a *fakeAlerts) Notify(_ context.Context, text string) error {
	a.texts = append(a.texts, text)
	return nil
}

type fakeReviewer struct {
	note *ai.Note
	err  error
	got  ai.Application
}

func (r *fakeReviewer) Review(_ context.Context, app ai.Application) (*ai.Note, error) {
	r.got = app
	return r.note, r.err
}

type memorySink struct{ records []Record }

func (s *memorySink) Store(_ context.Context, r Record) error {
	s.records = append(s.records, r)
	return nil
}

func completed() intake.Completion {
	return intake.Completion{
		User:   "42",
		Source: "post-1",
		Answers: questionnaire.Answers{
			Labels: []string{"Yes", "21+", ">1 year", "No", "Chris", "Ivan"},
			Path:   []int{0, 1, 2, 3, 6, 7},
		},
	}
}

type fixture struct {
	transport  *fakeTransport
	scorer     *fixedScorer
	membership *fakeMembership
	scheduler  *fakeScheduler
	alerts     *fakeAlerts
	sink       *memorySink
}

func newFixture(status scoring.Status, score int) *fixture {
	return &fixture{
		transport:  newFakeTransport(),
		scorer:     &fixedScorer{result: scoring.Result{Status: status, Score: score}},
		membership: &fakeMembership{},
		scheduler:  &fakeScheduler{},
		alerts:     &fakeAlerts{},
		sink:       &memorySink{},
	}
}

func (f *fixture) pipeline(reviewer ai.Reviewer, log *zap.Logger) *Pipeline {
	return New(Config{Roles: []string{"r1", "r2"}}, Deps{
		Transport:  f.transport,
		Scorer:     f.scorer,
		Membership: f.membership,
		Scheduler:  f.scheduler,
		Reviewer:   reviewer,
		Alerts:     f.alerts,
		Sink:       f.sink,
		Logger:     log,
	})
}

func TestAccepted(t *testing.T) {
	f := newFixture(scoring.Accepted, 12)
	rec := f.pipeline(nil, nil).Decide(context.Background(), completed())

	if rec.Status != scoring.Accepted || rec.Reason != ReasonAccepted || rec.Score != 12 || rec.ID == "" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if got := f.transport.granted["42"]; len(got) != 2 {
		t.Fatalf("expected roles to be granted, got %v", got)
	}
	if got := f.transport.nickname["42"]; got != "Chris | Ivan" {
		t.Fatalf("unexpected nickname %q", got)
	}
	if len(f.transport.dms["42"]) != 1 || !strings.Contains(f.transport.dms["42"][0], "Chris | Ivan") {
		t.Fatalf("expected an acceptance DM, got %v", f.transport.dms["42"])
	}
	if !strings.Contains(f.transport.dms["42"][0], "Within 7 days") {
		t.Fatalf("expected the default deadline in the DM, got %q", f.transport.dms["42"][0])
	}
	if len(f.scheduler.users) != 1 {
		t.Fatalf("expected a deadline reminder")
	}
	if len(f.transport.marks) != 1 || f.transport.marks[0] != "✅" {
		t.Fatalf("unexpected marks %v", f.transport.marks)
	}
	if len(f.transport.reviews) != 1 || f.transport.reviews[0].PingReviewers {
		t.Fatalf("expected a quiet review post, got %+v", f.transport.reviews)
	}
	if len(f.sink.records) != 1 || f.sink.records[0].ID != rec.ID {
		t.Fatalf("expected the record in the sink")
	}
}

func TestBlacklistedHighScoreIsDeclined(t *testing.T) {
	f := newFixture(scoring.Accepted, 99)
	f.membership.blacklisted = true

	rec := f.pipeline(nil, nil).Decide(context.Background(), completed())

	if rec.Status != scoring.Declined || rec.Reason != ReasonMembership {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if f.scorer.calls != 0 {
		t.Fatalf("scoring must be skipped")
	}
	if len(f.transport.granted) != 0 || len(f.scheduler.users) != 0 {
		t.Fatalf("no acceptance side effects may run")
	}
	if len(f.membership.recorded) != 0 {
		t.Fatalf("blacklisted users are not recorded as declined")
	}
	if len(f.transport.dms["42"]) != 1 {
		t.Fatalf("expected a decline DM")
	}
}

func TestPreviouslyDeclinedIsNotNotifiedTwice(t *testing.T) {
	f := newFixture(scoring.Accepted, 99)
	f.membership.declined = true

	rec := f.pipeline(nil, nil).Decide(context.Background(), completed())

	if rec.Status != scoring.Declined || rec.Reason != ReasonMembership {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(f.transport.dms["42"]) != 0 {
		t.Fatalf("previously declined users get no second DM")
	}
	if len(f.transport.reviews) != 1 {
		t.Fatalf("the review post is still made")
	}
}

func TestDeclinedByScore(t *testing.T) {
	f := newFixture(scoring.Declined, 0)

	rec := f.pipeline(nil, nil).Decide(context.Background(), completed())

	if rec.Reason != ReasonDeclined {
		t.Fatalf("unexpected reason %q", rec.Reason)
	}
	if len(f.membership.recorded) != 1 || f.membership.recorded[0] != "42" {
		t.Fatalf("expected the user to be recorded as declined, got %v", f.membership.recorded)
	}
	if f.transport.marks[0] != "❌" {
		t.Fatalf("unexpected marks %v", f.transport.marks)
	}
}

func TestPendingReview(t *testing.T) {
	f := newFixture(scoring.PendingReview, 5)
	reviewer := &fakeReviewer{note: &ai.Note{Recommendation: "interview", Summary: "Looks fine."}}

	rec := f.pipeline(reviewer, nil).Decide(context.Background(), completed())

	if len(f.transport.reviews) != 1 || !f.transport.reviews[0].PingReviewers {
		t.Fatalf("expected a review post pinging reviewers")
	}
	body := f.transport.reviews[0].Body
	for _, want := range []string{"Status: **PENDING_REVIEW**", "Score: 5", "**What is your real name?**\n➡️ Ivan", "Recommendation: **interview**"} {
		if !strings.Contains(body, want) {
			t.Fatalf("summary is missing %q:\n%s", want, body)
		}
	}
	if rec.Summary != body {
		t.Fatalf("record summary must match the posted body")
	}
	if len(reviewer.got.Answers) != 6 || reviewer.got.Answers[4].Question != "Which name will you use in game? (example: Christopher)" {
		t.Fatalf("assistant must see answers paired with questions, got %+v", reviewer.got.Answers)
	}
	if len(f.alerts.texts) != 1 {
		t.Fatalf("expected an operator alert")
	}
}

func TestPendingReviewSurvivesAssistantFailure(t *testing.T) {
	f := newFixture(scoring.PendingReview, 5)
	reviewer := &fakeReviewer{err: errors.New("quota")}

	f.pipeline(reviewer, nil).Decide(context.Background(), completed())

	if len(f.transport.reviews) != 1 || strings.Contains(f.transport.reviews[0].Body, "Assistant") {
		t.Fatalf("expected a plain review post")
	}
}

func TestRulesUnavailable(t *testing.T) {
	f := newFixture(scoring.PendingReview, 0)
	f.scorer.result.Err = scoring.ErrRulesNotFound

	rec := f.pipeline(nil, nil).Decide(context.Background(), completed())
	if rec.Status != scoring.PendingReview || rec.Reason != ReasonNoRules {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestUnreachableFallback(t *testing.T) {
	f := newFixture(scoring.Accepted, 12)
	f.transport.status["42"] = chat.Unreachable

	f.pipeline(nil, nil).Decide(context.Background(), completed())

	if strings.Join(f.transport.marks, "") != "✅🚷" {
		t.Fatalf("unexpected marks %v", f.transport.marks)
	}
	if len(f.transport.replies) != 1 || len(f.alerts.texts) != 1 {
		t.Fatalf("expected a reply on the application and an operator alert")
	}
	if len(f.transport.reviews) != 1 {
		t.Fatalf("the review post does not depend on the DM")
	}
}

func TestSideEffectFailuresAreIndependent(t *testing.T) {
	f := newFixture(scoring.Accepted, 12)
	f.transport.grantErr = errors.New("forbidden")
	f.transport.reviewErr = errors.New("thread failed")

	core, logs := observer.New(zapcore.WarnLevel)
	f.pipeline(nil, zap.New(core)).Decide(context.Background(), completed())

	if f.transport.nickname["42"] == "" || len(f.transport.dms["42"]) != 1 || len(f.scheduler.users) != 1 {
		t.Fatalf("remaining side effects must still run")
	}
	if logs.FilterMessage("granting roles failed").Len() != 1 {
		t.Fatalf("expected the role failure to be logged")
	}
	if logs.FilterMessage("posting review summary failed").Len() != 1 {
		t.Fatalf("expected the review failure to be logged")
	}
	if len(f.sink.records) != 1 {
		t.Fatalf("the record is still stored")
	}
}

func TestNickname(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		answers questionnaire.Answers
		want    string
	}{
		{
			name:    "path",
			answers: questionnaire.Answers{Labels: []string{"a", "b", " Chris ", "Ivan"}, Path: []int{0, 3, 6, 7}},
			want:    "Chris | Ivan",
		},
		{
			name:    "positional",
			answers: questionnaire.Answers{Labels: []string{"0", "1", "2", "3", "4", "5", "Chris", "Ivan"}},
			want:    "Chris | Ivan",
		},
		{
			name:    "missing real name",
			answers: questionnaire.Answers{Labels: []string{"a", "Chris"}, Path: []int{0, 6}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Nickname(tt.answers); got != tt.want {
				t.Fatalf("Nickname() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPeriod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 7 * 24 * time.Hour, want: "7 days"},
		{in: 24 * time.Hour, want: "1 day"},
		{in: 12 * time.Hour, want: "12 hours"},
		{in: 36 * time.Hour, want: "36 hours"},
		{in: time.Hour, want: "1 hour"},
		{in: 30 * time.Minute, want: "1 hour"},
		{in: 90 * time.Minute, want: "2 hours"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := Period(tt.in); got != tt.want {
				t.Fatalf("Period(%s) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestShortDeadlineIsQuotedInHours(t *testing.T) {
	f := newFixture(scoring.Accepted, 12)
	p := New(Config{Deadline: 12 * time.Hour}, Deps{Transport: f.transport, Scorer: f.scorer})

	p.Decide(context.Background(), completed())

	if dms := f.transport.dms["42"]; len(dms) != 1 || !strings.Contains(dms[0], "Within 12 hours") {
		t.Fatalf("expected the real deadline in the DM, got %v", dms)
	}
}
