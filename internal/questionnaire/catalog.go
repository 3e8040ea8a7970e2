// Package questionnaire holds the fixed intake questions and the rules that
// decide which question comes next.
package questionnaire

import (
	"fmt"
	"strings"
)

// Kind tells how a question is answered.
type Kind int

const (
	// KindText questions are answered with a free-text direct message.
	KindText Kind = iota
	// KindChoice questions are answered by reacting with one of the option tokens.
	KindChoice
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindChoice:
		return "choice"
	default:
		return "unknown"
	}
}

const (
	LabelYes = "Yes"
	LabelNo  = "No"
)

// Positions of questions other components refer to.
const (
	QuestionAge            = 1
	QuestionExperience     = 2
	QuestionGovFaction     = 3
	QuestionSenior         = 4
	QuestionSeniorDuration = 5
	QuestionGameName       = 6
	QuestionRealName       = 7
)

// Option maps a reaction token to the recorded answer label. Legacy is the
// label older deployments stored for the same option.
type Option struct {
	Token  string
	Label  string
	Legacy string
}

// Question is a single immutable catalog entry.
type Question struct {
	Text    string
	Kind    Kind
	Options []Option
}

// Label returns the answer label for a reaction token.
func (q Question) Label(token string) (string, bool) {
	if q.Kind != KindChoice {
		return "", false
	}
	for _, opt := range q.Options {
		if opt.Token == token {
			return opt.Label, true
		}
	}
	return "", false
}

// Canonical maps a stored label, current or legacy, to the current label.
// Unknown labels and text answers come back unchanged.
func (q Question) Canonical(label string) string {
	for _, opt := range q.Options {
		if label == opt.Label || (opt.Legacy != "" && label == opt.Legacy) {
			return opt.Label
		}
	}
	return label
}

// Tokens returns option tokens in display order.
func (q Question) Tokens() []string {
	tokens := make([]string, 0, len(q.Options))
	for _, opt := range q.Options {
		tokens = append(tokens, opt.Token)
	}
	return tokens
}

// Render builds the prompt text for the question at position index.
func (q Question) Render(index, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Question %d/%d:**\n%s", index+1, total, q.Text)

	switch q.Kind {
	case KindChoice:
		b.WriteString("\n")
		for _, opt := range q.Options {
			fmt.Fprintf(&b, "\n%s %s", opt.Token, opt.Label)
		}
	case KindText:
	}

	return b.String()
}

// Catalog is the ordered, fixed list of questions.
type Catalog struct {
	questions []Question
}

// NewCatalog builds a catalog from the given questions.
func NewCatalog(questions ...Question) *Catalog {
	return &Catalog{questions: append([]Question(nil), questions...)}
}

// Get returns the question at index. The caller validates the index.
func (c *Catalog) Get(index int) Question {
	return c.questions[index]
}

func (c *Catalog) Count() int {
	return len(c.questions)
}

// IsTerminal reports whether index is past the last question.
func (c *Catalog) IsTerminal(index int) bool {
	return index >= c.Count()
}

// Canonical rewrites legacy labels in an answer set to the current ones and
// reports whether anything changed.
func (c *Catalog) Canonical(a Answers) (Answers, bool) {
	out := Answers{Labels: append([]string(nil), a.Labels...), Path: append([]int(nil), a.Path...)}
	positional := len(a.Path) != len(a.Labels)

	changed := false
	for i, label := range a.Labels {
		q := i
		if !positional {
			q = a.Path[i]
		}
		if q < 0 || q >= c.Count() {
			continue
		}
		if canonical := c.questions[q].Canonical(label); canonical != label {
			out.Labels[i] = canonical
			changed = true
		}
	}
	return out, changed
}

var (
	yesNo = []Option{{Token: "✅", Label: LabelYes, Legacy: "Да"}, {Token: "❌", Label: LabelNo, Legacy: "Нет"}}

	defaultQuestions = []Question{
		{
			Text: "Hi! 👋 I am the HR bot of the **Bell** family.\n\n" +
				"Before we start: do you understand that you have to wait until the bot has added every reaction " +
				"before choosing, and that answers to previous questions cannot be changed? " +
				"[If the bot looks stuck, click the same reaction again, wait until all emoji are loaded and click once more]",
			Kind:    KindChoice,
			Options: yesNo,
		},
		{
			Text: "How old are you?",
			Kind: KindChoice,
			Options: []Option{
				{Token: "1️⃣", Label: "Under 14", Legacy: "Меньше 14"},
				{Token: "2️⃣", Label: "14-16"},
				{Token: "3️⃣", Label: "17-20"},
				{Token: "4️⃣", Label: "21+"},
			},
		},
		{
			Text: "How long have you been playing on the servers?",
			Kind: KindChoice,
			Options: []Option{
				{Token: "1️⃣", Label: "Less than a month", Legacy: "Меньше месяца"},
				{Token: "2️⃣", Label: ">1 month", Legacy: ">1 месяца"},
				{Token: "3️⃣", Label: ">3 months", Legacy: ">3 месяцев"},
				{Token: "4️⃣", Label: ">6 months", Legacy: ">6 месяцев"},
				{Token: "5️⃣", Label: ">1 year", Legacy: ">1 года"},
				{Token: "6️⃣", Label: ">2 years", Legacy: ">2 лет"},
				{Token: "7️⃣", Label: ">5 years", Legacy: ">5 лет"},
			},
		},
		{
			Text:    "Have you ever been a member of a government faction?",
			Kind:    KindChoice,
			Options: yesNo,
		},
		{
			Text:    "Were you part of the senior staff?",
			Kind:    KindChoice,
			Options: yesNo,
		},
		{
			Text: "How long were you part of the senior staff?",
			Kind: KindChoice,
			Options: []Option{
				{Token: "1️⃣", Label: "1 week", Legacy: "1 неделя"},
				{Token: "2️⃣", Label: "2 weeks", Legacy: "2 недели"},
				{Token: "3️⃣", Label: ">2 weeks", Legacy: ">2 недель"},
			},
		},
		{Text: "Which name will you use in game? (example: Christopher)", Kind: KindText},
		{Text: "What is your real name?", Kind: KindText},
	}
)

// Default returns the intake questionnaire.
func Default() *Catalog {
	return NewCatalog(defaultQuestions...)
}
