// Package progress persists in-flight intake sessions.
//
// A Store serializes every read and write of the durable backend, and the
// Tracker keeps the authoritative in-memory mirror that handlers mutate inside
// a single global transaction.
package progress

import (
	"sort"

	"github.com/spigell/hr-intake/internal/chat"
	"github.com/spigell/hr-intake/internal/questionnaire"
)

// Session is the persisted state of one candidate's unfinished intake.
type Session struct {
	Answers []string `json:"answers"`
	// Index is the next unanswered question.
	Index int `json:"index"`
	// Path holds the question index of every recorded answer.
	Path      []int           `json:"path,omitempty"`
	SourceRef chat.MessageRef `json:"msg_id,omitempty"`
	PromptRef chat.MessageRef `json:"qmsg_id,omitempty"`
}

// Record appends the answer to question q.
func (s *Session) Record(q int, label string) {
	if len(s.Path) != len(s.Answers) {
		// Older entries were stored without a path; their answers are positional.
		s.Path = s.Path[:0]
		for i := range s.Answers {
			s.Path = append(s.Path, i)
		}
	}
	s.Answers = append(s.Answers, label)
	s.Path = append(s.Path, q)
}

// AnswerSet returns the answers in the form the resolver and scoring engine read.
func (s *Session) AnswerSet() questionnaire.Answers {
	return questionnaire.Answers{
		Labels: append([]string(nil), s.Answers...),
		Path:   append([]int(nil), s.Path...),
	}
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Answers = make([]string, len(s.Answers))
	copy(c.Answers, s.Answers)
	if s.Path != nil {
		c.Path = append([]int(nil), s.Path...)
	}
	return &c
}

// Snapshot is the full set of sessions keyed by user.
type Snapshot map[chat.UserID]*Session

func (s Snapshot) Clone() Snapshot {
	c := make(Snapshot, len(s))
	for user, session := range s {
		if session == nil {
			continue
		}
		c[user] = session.Clone()
	}
	return c
}

// Users returns the user IDs in a stable order.
func (s Snapshot) Users() []chat.UserID {
	users := make([]chat.UserID, 0, len(s))
	for user := range s {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func toDocument(s Snapshot) map[string]*Session {
	doc := make(map[string]*Session, len(s))
	for user, session := range s {
		if session == nil {
			continue
		}
		doc[string(user)] = session
	}
	return doc
}

func fromDocument(doc map[string]*Session) Snapshot {
	s := make(Snapshot, len(doc))
	for user, session := range doc {
		if user == "" || session == nil {
			continue
		}
		if session.Index < 0 {
			session.Index = 0
		}
		s[chat.UserID(user)] = session
	}
	return s
}
