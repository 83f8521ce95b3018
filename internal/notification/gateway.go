package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/hiccup-service/internal/config"
)

// Gateway delivers a message to its recipients.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// NewGateway returns the WhatsApp gateway when a URL is configured and a
// logging gateway otherwise.
func NewGateway(cfg config.NotificationConfig, logger *zap.Logger) Gateway {
	if cfg.WhatsAppURL == "" {
		logger.Warn("WHATSAPP_API_URL not provided; notifications are logged only")
		return NewLogGateway(logger)
	}
	return NewWhatsAppGateway(cfg.WhatsAppURL, cfg.WhatsAppToken, cfg.Timeout())
}

// WhatsAppGateway posts `{"to": [...], "message": "..."}` to the messaging API.
type WhatsAppGateway struct {
	url     string
	token   string
	timeout time.Duration
}

// NewWhatsAppGateway constructs the gateway.
func NewWhatsAppGateway(url, token string, timeout time.Duration) *WhatsAppGateway {
	return &WhatsAppGateway{url: url, token: token, timeout: timeout}
}

type whatsAppRequest struct {
	To      []string `json:"to"`
	Message string   `json:"message"`
}

// Send performs one delivery attempt bounded by the configured timeout.
func (g *WhatsAppGateway) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := g.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Post(g.url)
	agent.Set(fiber.HeaderAuthorization, "Bearer "+g.token)
	agent.JSON(whatsAppRequest{To: msg.To, Message: msg.Body})
	agent.Timeout(timeout)

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("whatsapp request: %w", errs[0])
	}
	if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
		return fmt.Errorf("whatsapp responded %d: %s", status, truncate(string(body), 200))
	}
	return nil
}

// LogGateway records messages in the log instead of sending them.
type LogGateway struct {
	logger *zap.Logger
}

// NewLogGateway constructs the gateway.
func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(_ context.Context, msg Message) error {
	g.logger.Info("notification",
		zap.Strings("to", msg.To),
		zap.String("kind", msg.Kind),
		zap.String("case_id", msg.CaseID),
		zap.String("message", msg.Body))
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
