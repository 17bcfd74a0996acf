// Package notify delivers plain-text activity notifications.
package notify

import (
	"context"
	"strings"

	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/validation"
)

// Message is one notification addressed to a set of recipients.
type Message = model.Notification

// Notifier sends messages. Implementations must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// validRecipients returns the addresses that pass email validation, logging the rest.
func validRecipients(ctx context.Context, log logger.Logger, in []string) []string {
	out := make([]string, 0, len(in))
	v := validation.GetValidator()
	for _, r := range in {
		r = strings.TrimSpace(r)
		if err := v.Var(r, "required,email"); err != nil {
			log.Warn(ctx, "dropping invalid recipient", logger.String("recipient", r))
			continue
		}
		out = append(out, r)
	}
	return out
}

// Log writes notifications to the logger instead of delivering them.
type Log struct {
	logger logger.Logger
}

// NewLog returns a notifier that only logs. A nil logger uses the package default.
func NewLog(log logger.Logger) *Log {
	if log == nil {
		log = logger.Get().Named("notify")
	}
	return &Log{logger: log}
}

func (l *Log) Send(ctx context.Context, msg Message) error {
	to := validRecipients(ctx, l.logger, msg.Recipients)
	if len(to) == 0 {
		return ErrNoRecipients
	}
	l.logger.Info(ctx, "notification",
		logger.String("subject", msg.Subject),
		logger.String("to", strings.Join(to, ",")),
		logger.Int("body_bytes", len(msg.Body)))
	return nil
}
