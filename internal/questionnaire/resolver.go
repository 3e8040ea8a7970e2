package questionnaire

// Answers is the ordered answer set of a session. Path holds the question
// index each label answered; an empty Path means answers are positional.
type Answers struct {
	Labels []string
	Path   []int
}

// For returns the answer given to the question at index q.
func (a Answers) For(q int) (string, bool) {
	if len(a.Path) > 0 && len(a.Path) == len(a.Labels) {
		for i, asked := range a.Path {
			if asked == q {
				return a.Labels[i], true
			}
		}
		return "", false
	}

	if q < 0 || q >= len(a.Labels) {
		return "", false
	}
	return a.Labels[q], true
}

// Len returns the number of recorded answers.
func (a Answers) Len() int { return len(a.Labels) }

// Rule skips Extra additional questions when the computed next index equals
// Trigger and the answer to question Condition equals Value.
type Rule struct {
	Trigger   int
	Condition int
	Value     string
	Extra     int
}

// DefaultRules match the default catalog: no government faction skips both
// senior staff questions, no senior staff skips the duration question.
var DefaultRules = []Rule{
	{Trigger: QuestionSenior, Condition: QuestionGovFaction, Value: LabelNo, Extra: 2},
	{Trigger: QuestionSeniorDuration, Condition: QuestionSenior, Value: LabelNo, Extra: 1},
}

// Resolver computes the next question index from an ordered rule table.
type Resolver struct {
	rules []Rule
}

func NewResolver(rules ...Rule) *Resolver {
	return &Resolver{rules: append([]Rule(nil), rules...)}
}

// Next returns the index of the question that follows current. Rules are
// evaluated in order and each one applies at most once. The result is
// advisory: callers must still make sure it moves forward.
func (r *Resolver) Next(current int, answers Answers) int {
	next := current + 1
	for _, rule := range r.rules {
		if next != rule.Trigger {
			continue
		}
		if label, ok := answers.For(rule.Condition); ok && label == rule.Value {
			next += rule.Extra
		}
	}
	return next
}
