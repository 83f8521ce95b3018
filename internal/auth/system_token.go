package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/repository"
	apperrors "github.com/spec-kit/hiccup-service/pkg/util"
)

// InternalTokenHeader carries the system token for internal callers.
const InternalTokenHeader = "X-Internal-Token"

const systemTokenKey = "auth_system_token"

// SystemTokens issues and verifies `<id>.<secret>` credentials.
type SystemTokens struct {
	repo repository.SystemTokenRepository
	cost int
}

// NewSystemTokens constructs the verifier.
func NewSystemTokens(repo repository.SystemTokenRepository, bcryptCost int) *SystemTokens {
	return &SystemTokens{repo: repo, cost: bcryptCost}
}

// SplitSystemToken separates the wire form into id and secret.
func SplitSystemToken(raw string) (string, string, bool) {
	id, secret, found := strings.Cut(strings.TrimSpace(raw), ".")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

// Issue creates a new active token and returns its wire form. The secret is
// only available at this point.
func (s *SystemTokens) Issue(ctx context.Context, description string) (string, *domain.SystemToken, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, err
	}
	secret := hex.EncodeToString(buf)
	token, err := s.Register(ctx, uuid.NewString()+"."+secret, description)
	if err != nil {
		return "", nil, err
	}
	return token.ID + "." + secret, token, nil
}

// Register stores a caller-provided wire token. Registering an id that already
// exists returns repository.ErrDuplicate.
func (s *SystemTokens) Register(ctx context.Context, raw, description string) (*domain.SystemToken, error) {
	id, secret, ok := SplitSystemToken(raw)
	if !ok {
		return nil, apperrors.NewValidationError("system token must have the form <id>.<secret>", nil)
	}
	hash, err := HashSecret(secret, s.cost)
	if err != nil {
		return nil, err
	}
	token := &domain.SystemToken{ID: id, SecretHash: hash, Description: description, Active: true}
	if err := s.repo.Create(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Verify resolves an active token from its wire form.
func (s *SystemTokens) Verify(ctx context.Context, raw string) (*domain.SystemToken, error) {
	id, secret, ok := SplitSystemToken(raw)
	if !ok {
		return nil, apperrors.NewUnauthorized("malformed internal token")
	}
	token, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorized("invalid internal token")
		}
		return nil, err
	}
	if !token.Active || CompareSecret(token.SecretHash, secret) != nil {
		return nil, apperrors.NewUnauthorized("invalid internal token")
	}
	return token, nil
}

// Middleware guards internal routes with the X-Internal-Token header.
func (s *SystemTokens) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(InternalTokenHeader)
		if raw == "" {
			return apperrors.NewUnauthorized("missing internal token")
		}
		token, err := s.Verify(c.UserContext(), raw)
		if err != nil {
			return err
		}
		c.Locals(systemTokenKey, token)
		c.Locals(ActorIDKey, domain.SystemActorID)
		return c.Next()
	}
}

// SystemTokenFromContext returns the verified internal credential.
func SystemTokenFromContext(c *fiber.Ctx) (*domain.SystemToken, bool) {
	token, ok := c.Locals(systemTokenKey).(*domain.SystemToken)
	return token, ok
}
