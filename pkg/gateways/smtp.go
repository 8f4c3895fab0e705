package gateways

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/provider"
	"github.com/rs/zerolog"
)

// FactoryKeySMTP registers the SMTP relay gateway.
const FactoryKeySMTP = "smtp"

// SMTPGateway delivers mail messages through an SMTP relay. Text messages are
// outside its capability and fail with an explicit reason; capability flags on
// the descriptor should prevent them from being assigned here at all.
type SMTPGateway struct {
	addr     string
	username string
	password string
	logger   zerolog.Logger
}

// NewSMTPGateway creates a gateway for the relay at addr (host:port).
// Credentials are optional; unauthenticated relays are common in test rigs.
func NewSMTPGateway(addr, username, password string, logger zerolog.Logger) (*SMTPGateway, error) {
	if addr == "" {
		return nil, fmt.Errorf("smtp gateway requires an address")
	}
	return &SMTPGateway{
		addr:     addr,
		username: username,
		password: password,
		logger:   logger.With().Str("component", "SMTPGateway").Str("addr", addr).Logger(),
	}, nil
}

// DeliverBatch relays each mail message individually. SMTP has no batch
// submit, so per-message dialing keeps one bad recipient from failing the
// rest of the batch.
func (g *SMTPGateway) DeliverBatch(ctx context.Context, _ provider.Descriptor, msgs []courier.Message) ([]provider.Outcome, error) {
	outcomes := make([]provider.Outcome, 0, len(msgs))
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			// Report the remaining messages as failed rather than dropping
			// their outcomes; the director will retry them.
			outcomes = append(outcomes, provider.FailedOutcome(m.ID, "delivery cancelled: "+err.Error()))
			continue
		}
		if m.Mail == nil {
			outcomes = append(outcomes, provider.FailedOutcome(m.ID, "smtp gateway can only deliver mail messages"))
			continue
		}
		if err := g.send(m); err != nil {
			g.logger.Warn().Err(err).Str("message_id", m.ID).Msg("SMTP delivery failed.")
			outcomes = append(outcomes, provider.FailedOutcome(m.ID, err.Error()))
			continue
		}
		outcomes = append(outcomes, provider.SentOutcome(m.ID, ""))
	}
	return outcomes, nil
}

func (g *SMTPGateway) send(msg courier.Message) error {
	mail := msg.Mail

	var auth sasl.Client
	if g.username != "" {
		auth = sasl.NewPlainClient("", g.username, g.password)
	}

	body := buildMailBody(mail)
	if err := smtp.SendMail(g.addr, auth, mail.From, []string{mail.To}, strings.NewReader(body)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", mail.To, err)
	}
	return nil
}

func buildMailBody(mail *courier.MailPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", mail.From)
	fmt.Fprintf(&b, "To: %s\r\n", mail.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mail.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	if mail.HTMLBody != "" {
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(mail.HTMLBody)
	} else {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(mail.Body)
	}
	b.WriteString("\r\n")
	return b.String()
}

// RegisterSMTP binds the SMTP gateway to its factory key. The relay address
// and credentials come from the descriptor's "addr", "username" and
// "password" parameters.
func RegisterSMTP(f *provider.Factory, logger zerolog.Logger) error {
	return f.Register(FactoryKeySMTP, func(desc provider.Descriptor) (provider.DeliveryAdapter, error) {
		return NewSMTPGateway(desc.Params["addr"], desc.Params["username"], desc.Params["password"], logger)
	})
}
