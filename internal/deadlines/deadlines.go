// Package deadlines tracks the surname-change deadline given to accepted
// candidates. Deadlines are kept as plain lines in a ledger channel; an entry
// is flagged once its alarm has been raised.
package deadlines

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/alert"
	"github.com/spigell/hr-intake/internal/chat"
	"github.com/spigell/hr-intake/internal/utils"
)

// Layout is the UTC timestamp format of ledger lines.
const Layout = "2006-01-02 15:04:05"

const DefaultPeriod = 7 * 24 * time.Hour

// LedgerMessage is one posted ledger line.
type LedgerMessage struct {
	Ref     chat.MessageRef
	Content string
	Flagged bool
}

// Ledger is the channel deadlines are written to.
type Ledger interface {
	AppendLedger(ctx context.Context, line string) error
	LedgerMessages(ctx context.Context) ([]LedgerMessage, error)
	FlagLedger(ctx context.Context, ref chat.MessageRef) error
}

// Alarm is the channel expired deadlines are announced in.
type Alarm interface {
	RaiseAlarm(ctx context.Context, text string) error
}

// Members resolves guild members.
type Members interface {
	Member(ctx context.Context, user chat.UserID) (*chat.Member, error)
}

// Entry is a parsed ledger line.
type Entry struct {
	User chat.UserID
	Due  time.Time
}

// FormatEntry renders a ledger line.
func FormatEntry(user chat.UserID, due time.Time) string {
	return fmt.Sprintf("%s %s", user, due.UTC().Format(Layout))
}

// ParseEntry parses a ledger line written by FormatEntry.
func ParseEntry(line string) (Entry, error) {
	uid, stamp, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok {
		return Entry{}, fmt.Errorf("malformed ledger line %q", line)
	}
	if _, err := strconv.ParseUint(uid, 10, 64); err != nil {
		return Entry{}, fmt.Errorf("malformed user id in %q: %w", line, err)
	}

	due, err := time.ParseInLocation(Layout, strings.TrimSpace(stamp), time.UTC)
	if err != nil {
		return Entry{}, fmt.Errorf("malformed deadline in %q: %w", line, err)
	}

	return Entry{User: chat.UserID(uid), Due: due}, nil
}

// Config holds the tracker settings.
type Config struct {
	// Role is the probation role; an expired deadline only alarms while the
	// member still holds it.
	Role   string
	Period time.Duration
}

// Deps are the collaborators of a Tracker.
type Deps struct {
	Ledger   Ledger
	Alarm    Alarm
	Members  Members
	Notifier alert.Notifier
	Logger   *zap.Logger
}

type Tracker struct {
	role     string
	period   time.Duration
	ledger   Ledger
	alarm    Alarm
	members  Members
	notifier alert.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewTracker(cfg Config, deps Deps) *Tracker {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = alert.Nop{}
	}

	period := cfg.Period
	if period <= 0 {
		period = DefaultPeriod
	}

	return &Tracker{
		role:     cfg.Role,
		period:   period,
		ledger:   deps.Ledger,
		alarm:    deps.Alarm,
		members:  deps.Members,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Schedule records a deadline one period from now.
func (t *Tracker) Schedule(ctx context.Context, user chat.UserID) error {
	return t.ScheduleAt(ctx, user, t.now().Add(t.period))
}

func (t *Tracker) ScheduleAt(ctx context.Context, user chat.UserID, due time.Time) error {
	if err := t.ledger.AppendLedger(ctx, FormatEntry(user, due)); err != nil {
		return fmt.Errorf("writing deadline for %s: %w", user, err)
	}

	t.logger.Info("deadline scheduled", zap.String("user_id", string(user)), zap.Time("due", due.UTC()))
	return nil
}

// Check raises an alarm for every expired, unflagged entry whose member still
// holds the probation role, and flags it. It returns the number of alarms.
func (t *Tracker) Check(ctx context.Context) (int, error) {
	messages, err := t.ledger.LedgerMessages(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading deadline ledger: %w", err)
	}

	now := t.now().UTC()
	raised := 0

	for _, msg := range messages {
		if msg.Flagged {
			continue
		}

		entry, err := ParseEntry(msg.Content)
		if err != nil {
			t.logger.Warn("skipping ledger entry", zap.String("ref", string(msg.Ref)), zap.Error(err))
			continue
		}

		if now.Before(entry.Due) {
			continue
		}

		member, err := t.members.Member(ctx, entry.User)
		if err != nil {
			if !errors.Is(err, chat.ErrMemberNotFound) {
				t.logger.Warn("resolving member for deadline", zap.String("user_id", string(entry.User)), zap.Error(err))
			}
			continue
		}
		if !member.HasRole(t.role) {
			continue
		}

		text := fmt.Sprintf("⚠️ The surname change deadline has expired!\n"+
			"User: %s (`%s`)\n"+
			"Check that they are still in the family and changed the surname.",
			member.Mention, entry.User)

		if err := t.alarm.RaiseAlarm(ctx, text); err != nil {
			t.logger.Warn("raising deadline alarm", zap.String("user_id", string(entry.User)), zap.Error(err))
			continue
		}

		if err := t.notifier.Notify(ctx, fmt.Sprintf("Deadline expired for %s (%s)", member.DisplayName, entry.User)); err != nil {
			t.logger.Debug("deadline alert not delivered", zap.Error(err))
		}

		if err := t.ledger.FlagLedger(ctx, msg.Ref); err != nil {
			t.logger.Warn("flagging ledger entry", zap.String("ref", string(msg.Ref)), zap.Error(err))
		}

		raised++
	}

	return raised, nil
}

// Run checks deadlines every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, every time.Duration) {
	for {
		if n, err := t.Check(ctx); err != nil {
			t.logger.Warn("deadline check failed", zap.Error(err))
		} else if n > 0 {
			t.logger.Info("deadline alarms raised", zap.Int("count", n))
		}

		if every <= 0 {
			return
		}
		if err := utils.WaitFor(ctx, every); err != nil {
			return
		}
	}
}
