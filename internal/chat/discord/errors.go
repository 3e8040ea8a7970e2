package discord

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/spigell/hr-intake/internal/chat"
)

// deliveryStatus tells a user who cannot be messaged from a transient failure.
func deliveryStatus(err error) chat.DeliveryStatus {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return chat.Failed
	}

	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeCannotSendMessagesToThisUser,
			discordgo.ErrCodeUnknownUser,
			discordgo.ErrCodeUnknownMember:
			return chat.Unreachable
		}
	}

	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden, http.StatusNotFound:
			return chat.Unreachable
		}
	}

	return chat.Failed
}

func isNotFound(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}

	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return true
		}
	}

	return rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}
