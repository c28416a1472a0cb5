package notify

import (
	"context"

	"solana-forensics/internal/core/domain"

	"github.com/rs/zerolog"
)

// LogNotifier writes alerts to the structured log. It never fails, which
// makes it the usual primary channel.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("channel", ChannelLog).Logger()}
}

func (n *LogNotifier) Name() string { return ChannelLog }

func (n *LogNotifier) Notify(_ context.Context, a *domain.Alert) error {
	ev := n.log.Warn()
	if a.Severity == domain.SeverityCritical || a.Severity == domain.SeverityEmergency {
		ev = n.log.Error()
	}
	ev.Str("alert_id", a.ID).
		Str("severity", string(a.Severity)).
		Str("type", a.Type).
		Str("wallet", a.WalletAddress).
		Str("signature", a.TransactionID).
		Msg(a.Title)
	return nil
}
