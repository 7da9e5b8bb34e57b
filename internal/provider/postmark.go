package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"
)

// Postmark API error codes that will not succeed on retry.
var permanentPostmarkCodes = map[int64]struct{}{
	300: {}, // invalid email request
	406: {}, // inactive recipient
}

type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	// BaseURL overrides the API endpoint. Empty uses the Postmark default.
	BaseURL string
}

// PostmarkProvider sends through the Postmark transactional API.
type PostmarkProvider struct {
	client *postmark.Client
	from   string
}

func NewPostmarkProvider(cfg PostmarkConfig) (*PostmarkProvider, error) {
	if strings.TrimSpace(cfg.ServerToken) == "" {
		return nil, fmt.Errorf("postmark server token is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("postmark sender address is required")
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &PostmarkProvider{client: client, from: cfg.From}, nil
}

func (p *PostmarkProvider) Name() string { return "postmark" }

func (p *PostmarkProvider) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	email := postmark.Email{
		From:       p.from,
		To:         msg.To,
		Subject:    msg.Subject,
		HTMLBody:   msg.HTML,
		TrackOpens: true,
	}
	if msg.CorrelationID != "" {
		email.Headers = []postmark.Header{{Name: "X-Correlation-ID", Value: msg.CorrelationID}}
	}

	// The client may report an API error both in the response and as err.
	resp, err := p.client.SendEmail(ctx, email)
	if resp.ErrorCode > 0 {
		_, permanent := permanentPostmarkCodes[resp.ErrorCode]
		return nil, &ProviderError{
			StatusCode: int(resp.ErrorCode),
			Message:    fmt.Sprintf("postmark error %d: %s", resp.ErrorCode, resp.Message),
			Transient:  !permanent,
		}
	}
	if err != nil {
		return nil, transientError("postmark request failed", err)
	}

	return &ProviderResponse{
		Body:      resp.Message,
		MessageID: resp.MessageID,
	}, nil
}
