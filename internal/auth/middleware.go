package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/repository"
	apperrors "github.com/spec-kit/hiccup-service/pkg/util"
)

const (
	actorKey = "auth_actor"
	// ActorIDKey holds the plain actor id for request logging.
	ActorIDKey = "actor_id"
)

// AuthMiddleware validates bearer tokens and resolves actors.
type AuthMiddleware struct {
	tokens *TokenManager
	staff  repository.StaffRepository
	logger *zap.Logger
}

// NewAuthMiddleware constructs middleware. staff may be nil, in which case the
// directory is not refreshed from verified identities.
func NewAuthMiddleware(tokens *TokenManager, staff repository.StaffRepository, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, staff: staff, logger: logger}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	actor, err := claims.Actor()
	if err != nil {
		return apperrors.NewUnauthorized("invalid token claims")
	}

	if m.staff != nil {
		entry := &domain.StaffMember{ID: actor.ID, Name: actor.Name, Role: actor.Role, Unit: actor.Unit}
		if actor.Phone != "" {
			phone := actor.Phone
			entry.Phone = &phone
		}
		if err := m.staff.Upsert(c.UserContext(), entry); err != nil {
			m.logger.Warn("staff directory refresh failed", zap.String("actor_id", actor.ID), zap.Error(err))
		}
	}

	c.Locals(actorKey, actor)
	c.Locals(ActorIDKey, actor.ID)
	return c.Next()
}

// ActorFromContext retrieves the authenticated actor.
func ActorFromContext(c *fiber.Ctx) (domain.Actor, bool) {
	actor, ok := c.Locals(actorKey).(domain.Actor)
	return actor, ok
}
