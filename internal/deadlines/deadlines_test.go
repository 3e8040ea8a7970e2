package deadlines

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spigell/hr-intake/internal/chat"
)

const probation = "role-probation"

type fakeLedger struct {
	messages []LedgerMessage
	appended []string
	flagged  []chat.MessageRef
	readErr  error
}

func (l *fakeLedger) AppendLedger(_ context.Context, line string) error {
	l.appended = append(l.appended, line)
	return nil
}

func (l *fakeLedger) LedgerMessages(context.Context) ([]LedgerMessage, error) {
	return l.messages, l.readErr
}

func (l *fakeLedger) FlagLedger(_ context.Context, ref chat.MessageRef) error {
	l.flagged = append(l.flagged, ref)
	return nil
}

type fakeAlarm struct {
	texts []string
}

func (a *fakeAlarm) RaiseAlarm(_ context.Context, text string) error {
	a.texts = append(a.texts, text)
	return nil
}

type fakeMembers map[chat.UserID]*chat.Member

func (m fakeMembers) Member(_ context.Context, user chat.UserID) (*chat.Member, error) {
	member, ok := m[user]
	if !ok {
		return nil, chat.ErrMemberNotFound
	}
	return member, nil
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context, string) error {
	c.n++
	return nil
}

func fixedNow() time.Time {
	return time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)
}

func TestFormatAndParseEntry(t *testing.T) {
	due := time.Date(2025, 9, 17, 8, 30, 5, 0, time.UTC)

	line := FormatEntry("1414026815873486868", due)
	if line != "1414026815873486868 2025-09-17 08:30:05" {
		t.Fatalf("unexpected line %q", line)
	}

	entry, err := ParseEntry(line)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if entry.User != "1414026815873486868" || !entry.Due.Equal(due) {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestParseEntryRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, line := range []string{"", "hello", "abc 2025-09-17 08:30:05", "123 tomorrow"} {
		line := line
		t.Run(line, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseEntry(line); err == nil {
				t.Fatalf("expected error for %q", line)
			}
		})
	}
}

func TestSchedule(t *testing.T) {
	ledger := &fakeLedger{}
	tracker := NewTracker(Config{Role: probation}, Deps{Ledger: ledger})
	tracker.now = fixedNow

	if err := tracker.Schedule(context.Background(), "42"); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if len(ledger.appended) != 1 || ledger.appended[0] != "42 2025-09-17 12:00:00" {
		t.Fatalf("unexpected ledger %v", ledger.appended)
	}
}

func TestCheck(t *testing.T) {
	ledger := &fakeLedger{messages: []LedgerMessage{
		{Ref: "m1", Content: "1 2025-09-01 00:00:00"},                // expired, has role
		{Ref: "m2", Content: "2 2025-09-01 00:00:00"},                // expired, role removed
		{Ref: "m3", Content: "3 2025-09-30 00:00:00"},                // not yet due
		{Ref: "m4", Content: "4 2025-09-01 00:00:00", Flagged: true}, // already handled
		{Ref: "m5", Content: "5 2025-09-01 00:00:00"},                // left the guild
		{Ref: "m6", Content: "garbage"},
		{Ref: "m7", Content: "7 2025-09-10 12:00:00"}, // due exactly now
	}}
	members := fakeMembers{
		"1": {ID: "1", DisplayName: "One", Mention: "<@1>", Roles: []string{probation}},
		"2": {ID: "2", DisplayName: "Two", Mention: "<@2>"},
		"3": {ID: "3", Roles: []string{probation}},
		"4": {ID: "4", Roles: []string{probation}},
		"7": {ID: "7", Mention: "<@7>", Roles: []string{"other", probation}},
	}
	alarm := &fakeAlarm{}
	notifier := &countingNotifier{}

	tracker := NewTracker(Config{Role: probation}, Deps{
		Ledger:   ledger,
		Alarm:    alarm,
		Members:  members,
		Notifier: notifier,
	})
	tracker.now = fixedNow

	n, err := tracker.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 alarms, got %d", n)
	}

	if len(ledger.flagged) != 2 || ledger.flagged[0] != "m1" || ledger.flagged[1] != "m7" {
		t.Fatalf("unexpected flagged entries %v", ledger.flagged)
	}
	if !strings.Contains(alarm.texts[0], "<@1>") || !strings.Contains(alarm.texts[1], "`7`") {
		t.Fatalf("unexpected alarm texts %v", alarm.texts)
	}
	if notifier.n != 2 {
		t.Fatalf("expected operator alerts, got %d", notifier.n)
	}
}

func TestCheckLedgerError(t *testing.T) {
	tracker := NewTracker(Config{}, Deps{Ledger: &fakeLedger{readErr: errors.New("no channel")}})
	if _, err := tracker.Check(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	ledger := &fakeLedger{}
	tracker := NewTracker(Config{}, Deps{Ledger: ledger})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		tracker.Run(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
}
