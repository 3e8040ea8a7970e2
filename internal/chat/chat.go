// Package chat describes what the intake core needs from the chat platform.
// Adapters (see chat/discord) implement these interfaces; the core never
// talks to a platform SDK directly.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMemberNotFound is returned by Directory lookups when the user is not a guild member.
var ErrMemberNotFound = errors.New("member not found")

// UserID is a string-encoded platform user identifier.
type UserID string

// MessageRef is an opaque reference to a posted message.
type MessageRef string

// UnmarshalJSON accepts both strings and bare numbers, since older progress
// files stored message IDs as integers.
func (r *MessageRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = MessageRef(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message ref: %w", err)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("message ref: %w", err)
	}
	*r = MessageRef(n.String())
	return nil
}

// Member is a guild member as seen by the core.
type Member struct {
	ID          UserID
	DisplayName string
	Mention     string
	Roles       []string
}

// HasRole reports whether the member holds the given role.
func (m *Member) HasRole(role string) bool {
	if m == nil {
		return false
	}
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DeliveryStatus is the outcome of a direct message attempt.
type DeliveryStatus int

const (
	// Delivered means the message was posted and Delivery.Ref is set.
	Delivered DeliveryStatus = iota
	// Unreachable means the user cannot be contacted (unknown user, closed DMs).
	Unreachable
	// Failed means a transient failure; retrying later may succeed.
	Failed
)

func (s DeliveryStatus) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Unreachable:
		return "unreachable"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Delivery is the result of SendDirect.
type Delivery struct {
	Status DeliveryStatus
	Ref    MessageRef
	Err    error
}

// Ok reports whether the message was delivered.
func (d Delivery) Ok() bool { return d.Status == Delivered }

// ReviewPost is a record posted to the review surface next to an application.
type ReviewPost struct {
	Source MessageRef
	Title  string
	Body   string
	// PingReviewers asks the adapter to mention the reviewer roles.
	PingReviewers bool
}

// Direct delivers private messages to candidates.
type Direct interface {
	SendDirect(ctx context.Context, user UserID, text string) Delivery
	AddChoices(ctx context.Context, user UserID, prompt MessageRef, tokens []string) error
}

// Directory resolves and updates guild members.
type Directory interface {
	Member(ctx context.Context, user UserID) (*Member, error)
	FindMember(ctx context.Context, tag string) (*Member, error)
	GrantRoles(ctx context.Context, user UserID, roles []string) error
	SetDisplayName(ctx context.Context, user UserID, name string) error
}

// ReviewBoard is the surface where reviewers see applications and outcomes.
type ReviewBoard interface {
	MarkSource(ctx context.Context, source MessageRef, emoji string) error
	ReplySource(ctx context.Context, source MessageRef, text string) error
	PostReview(ctx context.Context, post ReviewPost) error
}

// Transport is everything the intake core needs from the platform.
type Transport interface {
	Direct
	Directory
	ReviewBoard
}
