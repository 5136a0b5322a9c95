package identity

import "context"

// Notifier delivers an issued code over an out-of-band channel. The
// engines persist state first and dispatch after, so a slow or failing
// notifier never holds a lock or rolls back an issued code.
type Notifier interface {
	SendCode(ctx context.Context, email string, kind PendingKind, code string) error
}

// LogNotifier writes deliveries to the logger. Default collaborator
// for environments without a real email channel.
type LogNotifier struct {
	logger Logger
}

func NewLogNotifier(logger Logger) *LogNotifier {
	return &LogNotifier{logger: ensureLogger(logger)}
}

func (n *LogNotifier) SendCode(_ context.Context, email string, kind PendingKind, _ string) error {
	n.logger.Info("verification code issued", "email", email, "kind", kind)
	return nil
}

type noopNotifier struct{}

func (noopNotifier) SendCode(context.Context, string, PendingKind, string) error { return nil }

func ensureNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}
