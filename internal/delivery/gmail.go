package delivery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"forwarding-audit-go/internal/config"
)

const sendAttempts = 3

// Sender transmits a composed RFC 5322 message.
type Sender interface {
	Send(ctx context.Context, raw []byte) error
}

// GmailSender sends messages via the Gmail API
type GmailSender struct {
	service   *gmail.Service
	userEmail string
	sleep     func(time.Duration)
}

// NewGmailSender creates a sender authenticated with the configured refresh token
func NewGmailSender(ctx context.Context, cfg config.DeliveryConfig) (*GmailSender, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	tokenSource := oauth2Config.TokenSource(ctx, token)

	return newGmailSender(ctx, cfg.UserEmail, option.WithTokenSource(tokenSource))
}

func newGmailSender(ctx context.Context, userEmail string, opts ...option.ClientOption) (*GmailSender, error) {
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	if userEmail == "" {
		userEmail = "me"
	}
	return &GmailSender{
		service:   service,
		userEmail: userEmail,
		sleep:     time.Sleep,
	}, nil
}

// Send uploads raw through users.messages.send, retrying rate-limited calls
// with a growing delay.
func (s *GmailSender) Send(ctx context.Context, raw []byte) error {
	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		sent, err := s.service.Users.Messages.Send(s.userEmail, message).Context(ctx).Do()
		if err == nil {
			logrus.WithField("message_id", sent.Id).Info("Report mail sent")
			return nil
		}

		lastErr = err
		logrus.Warnf("Failed to send report mail (attempt %d/%d): %v", attempt, sendAttempts, err)

		if !isRateLimited(err) || attempt == sendAttempts {
			break
		}
		waitTime := time.Duration(attempt*attempt) * time.Second
		logrus.Infof("Rate limited, waiting %v before retry", waitTime)
		s.sleep(waitTime)
	}

	return fmt.Errorf("failed to send report mail: %w", lastErr)
}

func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate")
}
