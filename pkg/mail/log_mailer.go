package mail

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer writes messages to the application log instead of delivering
// them. It stands in for the SMTP mailer in development setups where no
// relay is configured. Message bodies carry verification links, so they are
// logged verbatim on purpose.
type LogMailer struct {
	log *zap.Logger
}

// NewLogMailer constructs a LogMailer on top of the provided logger.
func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{log: log}
}

// Send logs the message and reports success.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("outbound email",
		zap.String("from", msg.From),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
