// Package app holds the services of the demo application: a mailer and a
// newsletter fanned out to every tagged notifier.
package app

import (
	"fmt"
	"sync"

	"github.com/km-arc/go-container/framework/container"
)

// Transport delivers raw messages.
type Transport struct {
	DSN string

	mu   sync.Mutex
	sent []string
}

func NewTransport(dsn string) *Transport { return &Transport{DSN: dsn} }

func (t *Transport) Deliver(to, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, to+": "+body)
	return nil
}

// Sent returns the delivered messages.
func (t *Transport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

type Mailer struct {
	Transport *Transport
	From      string
}

func NewMailer(transport *Transport, from string) *Mailer {
	return &Mailer{Transport: transport, From: from}
}

func (m *Mailer) Send(to, subject string) error {
	return m.Transport.Deliver(to, fmt.Sprintf("[%s] %s", m.From, subject))
}

// ── Notifiers ─────────────────────────────────────────────────────────────────

// Notifier is implemented by every service tagged "notifier".
type Notifier interface {
	Notify(subject string) error
}

// MailNotifier mails subscribers.
type MailNotifier struct {
	Mailer *Mailer
	To     string
}

func NewMailNotifier(mailer *Mailer, to string) *MailNotifier {
	return &MailNotifier{Mailer: mailer, To: to}
}

func (n *MailNotifier) Notify(subject string) error { return n.Mailer.Send(n.To, subject) }

// LogNotifier records subjects in memory.
type LogNotifier struct {
	mu      sync.Mutex
	entries []string
}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Notify(subject string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, subject)
	return nil
}

func (n *LogNotifier) Entries() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.entries...)
}

// ── Newsletter ────────────────────────────────────────────────────────────────

// Newsletter publishes a subject to every notifier. Notifiers are built on
// the first publish.
type Newsletter struct {
	notifiers *container.Sequence
}

func NewNewsletter(notifiers *container.Sequence) *Newsletter {
	return &Newsletter{notifiers: notifiers}
}

// Publish returns the number of notifiers reached.
func (n *Newsletter) Publish(subject string) (int, error) {
	notifiers, err := container.Collect[Notifier](n.notifiers)
	if err != nil {
		return 0, err
	}
	for _, notifier := range notifiers {
		if err := notifier.Notify(subject); err != nil {
			return 0, err
		}
	}
	return len(notifiers), nil
}
