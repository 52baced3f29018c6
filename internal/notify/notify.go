// Package notify sends e-mail copies of high priority alerts. Delivery is
// asynchronous and best effort; failures are logged and never reach the
// caller that sent the alert.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"jagruk/preparedness/internal/alerts"
)

type Message struct {
	To      []string
	Subject string
	Text    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type SendgridMailer struct {
	key  string
	from *sgmail.Email
}

func NewSendgridMailer(apiKey, from string) *SendgridMailer {
	return &SendgridMailer{key: apiKey, from: sgmail.NewEmail("Preparedness alerts", from)}
}

func (m *SendgridMailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail("", to))
	}
	out := sgmail.NewV3Mail()
	out.SetFrom(m.from)
	out.AddPersonalizations(p)
	out.AddContent(sgmail.NewContent("text/plain", msg.Text))
	return out
}

func (m *SendgridMailer) Send(_ context.Context, msg Message) error {
	req := sendgrid.GetRequest(m.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return errors.Wrap(err, "sending email")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("sending email: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// LogMailer writes messages to the logger instead of sending them.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("email",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}

// AlertNotifier mails alerts to a fixed list of recipients.
type AlertNotifier struct {
	mailer     Mailer
	recipients []string
	timeout    time.Duration
	log        *zap.Logger
	wg         sync.WaitGroup
}

func NewAlertNotifier(mailer Mailer, recipients []string, log *zap.Logger) *AlertNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertNotifier{mailer: mailer, recipients: recipients, timeout: 15 * time.Second, log: log}
}

func (n *AlertNotifier) AlertSent(_ context.Context, a alerts.Alert) {
	if len(n.recipients) == 0 {
		return
	}
	msg := Message{
		To:      n.recipients,
		Subject: fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Priority)), a.Title),
		Text:    alertText(a),
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		// The request context ends with the HTTP call; mail on our own clock.
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.mailer.Send(ctx, msg); err != nil {
			n.log.Error("alert email failed", zap.String("alert", a.ID), zap.Error(err))
			return
		}
		n.log.Debug("alert email sent", zap.String("alert", a.ID), zap.Int("recipients", len(msg.To)))
	}()
}

// Wait blocks until in-flight e-mails finish.
func (n *AlertNotifier) Wait() {
	n.wg.Wait()
}

func alertText(a alerts.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", a.Message)
	fmt.Fprintf(&b, "Priority: %s\n", a.Priority)
	fmt.Fprintf(&b, "School: %s\n", a.SchoolID)
	if a.Audience == alerts.AudienceClass {
		fmt.Fprintf(&b, "Class: %s\n", a.ClassID)
	}
	fmt.Fprintf(&b, "Sent: %s\n", a.CreatedAt.Format(time.RFC1123Z))
	return b.String()
}
