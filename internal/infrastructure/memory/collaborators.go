package memory

import (
	"context"
	"sync"

	domain "marketplace/identity/internal/domain/auth"
)

// AuditLog collects audit entries.
type AuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	// Err, when set, is returned by Record after the entry is kept.
	Err error
}

var _ domain.AuditSink = (*AuditLog)(nil)

// Record implements domain.AuditSink.
func (l *AuditLog) Record(_ context.Context, entry domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return l.Err
}

// Entries returns the recorded entries in arrival order.
func (l *AuditLog) Entries() []domain.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.AuditEntry(nil), l.entries...)
}

// Actions returns the recorded action names.
func (l *AuditLog) Actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.Action)
	}
	return out
}

// Mail is a captured password-reset email.
type Mail struct {
	To    string
	Token string
}

// Mailer captures outgoing mail.
type Mailer struct {
	mu   sync.Mutex
	sent []Mail
	// Err, when set, is returned instead of capturing the message.
	Err error
}

var _ domain.MailSender = (*Mailer)(nil)

// SendPasswordResetEmail implements domain.MailSender.
func (m *Mailer) SendPasswordResetEmail(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, Mail{To: to, Token: token})
	return nil
}

// Sent returns captured messages.
func (m *Mailer) Sent() []Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mail(nil), m.sent...)
}
