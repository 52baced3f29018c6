package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"jagruk/preparedness/internal/alerts"
)

type memMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *memMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func TestAlertNotifierSendsToRecipients(t *testing.T) {
	mailer := &memMailer{}
	n := NewAlertNotifier(mailer, []string{"office@example.org"}, nil)
	n.AlertSent(context.Background(), alerts.Alert{
		ID:        "a1",
		SchoolID:  "s1",
		Title:     "Gas leak",
		Message:   "Leave the chemistry block",
		Priority:  alerts.PriorityCritical,
		Audience:  alerts.AudienceClass,
		ClassID:   "9c",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	n.Wait()

	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.Subject != "[CRITICAL] Gas leak" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "Leave the chemistry block") || !strings.Contains(msg.Text, "Class: 9c") {
		t.Fatalf("unexpected body %q", msg.Text)
	}
}

func TestAlertNotifierSkipsWithoutRecipients(t *testing.T) {
	mailer := &memMailer{}
	n := NewAlertNotifier(mailer, nil, nil)
	n.AlertSent(context.Background(), alerts.Alert{ID: "a1", Priority: alerts.PriorityHigh})
	n.Wait()
	if len(mailer.sent) != 0 {
		t.Fatalf("expected no email")
	}
}

func TestAlertNotifierSwallowsErrors(t *testing.T) {
	mailer := &memMailer{err: errors.New("smtp down")}
	n := NewAlertNotifier(mailer, []string{"a@example.org"}, nil)
	n.AlertSent(context.Background(), alerts.Alert{ID: "a1", Priority: alerts.PriorityHigh})
	n.Wait()
	if len(mailer.sent) != 1 {
		t.Fatalf("expected the send attempt")
	}
}

func TestSendgridPrepare(t *testing.T) {
	m := NewSendgridMailer("key", "alerts@example.org")
	mail := m.prepare(Message{To: []string{"a@example.org", "b@example.org"}, Subject: "s", Text: "body"})
	if mail.From.Address != "alerts@example.org" {
		t.Fatalf("unexpected from %q", mail.From.Address)
	}
	if len(mail.Personalizations) != 1 || len(mail.Personalizations[0].To) != 2 {
		t.Fatalf("unexpected personalizations %+v", mail.Personalizations)
	}
	if len(mail.Content) != 1 || mail.Content[0].Value != "body" {
		t.Fatalf("unexpected content %+v", mail.Content)
	}
}
