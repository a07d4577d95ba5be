package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the part of the Twilio API client we use.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// SMSSender delivers alerts as SMS through Twilio.
type SMSSender struct {
	api  messageCreator
	from string
}

// NewSMSSender returns nil when any credential is missing, which disables
// the SMS channel.
func NewSMSSender(sid, token, from string) *SMSSender {
	if sid == "" || token == "" || from == "" {
		return nil
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: sid,
		Password: token,
	})
	return &SMSSender{api: client.Api, from: from}
}

func (s *SMSSender) Channel() Channel { return ChannelSMS }

// Send posts the short message. The Twilio client has no context support,
// so ctx is only checked before the call.
func (s *SMSSender) Send(ctx context.Context, to string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(msg.Short)

	if _, err := s.api.CreateMessage(params); err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	return nil
}
