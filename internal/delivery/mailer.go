package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"forwarding-audit-go/internal/report"
)

// Mailer sends report artifacts as attachments.
type Mailer struct {
	sender     Sender
	fs         afero.Fs
	from       string
	recipients []string
	now        func() time.Time
}

// NewMailer creates a mailer that reads artifacts from fs.
func NewMailer(sender Sender, fs afero.Fs, from string, recipients []string) *Mailer {
	return &Mailer{
		sender:     sender,
		fs:         fs,
		from:       from,
		recipients: recipients,
		now:        time.Now,
	}
}

// DeliverReport mails the artifact to every configured recipient.
func (m *Mailer) DeliverReport(ctx context.Context, art *report.Artifact) error {
	data, err := afero.ReadFile(m.fs, art.Path)
	if err != nil {
		return fmt.Errorf("failed to read report %s: %w", art.Path, err)
	}

	raw, err := Compose(Message{
		From:    m.from,
		To:      m.recipients,
		Subject: fmt.Sprintf("%s (%s)", art.Variant.Title(), art.GeneratedAt.Format("2006-01-02 15:04")),
		Body: fmt.Sprintf("The %s report generated at %s is attached (%d rules, %d bytes).\r\n",
			art.Variant, art.GeneratedAt.Format(time.RFC3339), art.Rules, art.Size),
		Attachments: []Attachment{{Name: art.Name, Data: data}},
	}, m.now())
	if err != nil {
		return fmt.Errorf("failed to compose report mail: %w", err)
	}

	if err := m.sender.Send(ctx, raw); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"report":     art.Name,
		"recipients": len(m.recipients),
	}).Info("Report delivered")
	return nil
}
