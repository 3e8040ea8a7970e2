// Package ai describes the optional review assistant that drafts notes for
// applications waiting for a human decision.
package ai

import (
	"context"
	"fmt"
	"strings"
)

// QA pairs a question with the answer the candidate gave.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Application is what the assistant sees of a finished intake.
type Application struct {
	User    string `json:"user_id"`
	Status  string `json:"status"`
	Score   int    `json:"score"`
	Answers []QA   `json:"answers"`
}

// Note is advisory only. It never changes a decision.
type Note struct {
	Recommendation string
	Summary        string
	Concerns       []string
	Raw            string
}

// Render formats the note for the review thread.
func (n *Note) Render() string {
	if n == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("🤖 **Assistant note** (advisory)\n")
	if n.Recommendation != "" {
		fmt.Fprintf(&b, "Recommendation: **%s**\n", n.Recommendation)
	}
	if n.Summary != "" {
		b.WriteString(n.Summary)
		b.WriteString("\n")
	}
	for _, c := range n.Concerns {
		fmt.Fprintf(&b, "• %s\n", c)
	}

	return strings.TrimSpace(b.String())
}

type Reviewer interface {
	Review(ctx context.Context, app Application) (*Note, error)
}
