package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/hiccup-service/internal/config"
	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/repository"
	apperrors "github.com/spec-kit/hiccup-service/pkg/util"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:             "test-secret",
		Issuer:                "arpra",
		Audience:              "arpra",
		AccessTokenTTLMinutes: 5,
		BcryptCost:            bcrypt.MinCost,
	}
}

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager(testAuthConfig())
	token, _, err := tm.GenerateToken(domain.Actor{ID: "alice", Name: "Alice", Role: domain.RoleUnitHead, Unit: "ICU"})
	require.NoError(t, err)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	actor, err := claims.Actor()
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{ID: "alice", Name: "Alice", Role: domain.RoleUnitHead, Unit: "ICU"}, actor)
}

func TestTokenManager_RejectsForeignIssuerAndAudience(t *testing.T) {
	cfg := testAuthConfig()
	other := cfg
	other.Issuer = "someone-else"
	foreign, _, err := NewTokenManager(other).GenerateToken(domain.Actor{ID: "mallory", Role: domain.RoleAdmin})
	require.NoError(t, err)
	_, err = NewTokenManager(cfg).ParseToken(foreign)
	assert.Error(t, err)

	other = cfg
	other.Audience = "another-app"
	foreign, _, err = NewTokenManager(other).GenerateToken(domain.Actor{ID: "mallory", Role: domain.RoleAdmin})
	require.NoError(t, err)
	_, err = NewTokenManager(cfg).ParseToken(foreign)
	assert.Error(t, err)
}

func TestTokenManager_RejectsExpiredAndUnsignedMethods(t *testing.T) {
	tm := NewTokenManager(testAuthConfig())
	tm.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, err := tm.GenerateToken(domain.Actor{ID: "alice", Role: domain.RoleStaff})
	require.NoError(t, err)
	tm.now = time.Now
	_, err = tm.ParseToken(expired)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{
		Subject: "mallory", Issuer: "arpra", Audience: jwt.ClaimStrings{"arpra"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tm.ParseToken(unsigned)
	assert.Error(t, err)
}

func TestClaims_UnknownRole(t *testing.T) {
	claims := &Claims{Role: "superuser", RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}
	_, err := claims.Actor()
	assert.Error(t, err)
}

func newProtectedApp(t *testing.T, staff repository.StaffRepository) (*fiber.App, *TokenManager) {
	t.Helper()
	tm := NewTokenManager(testAuthConfig())
	mw := NewAuthMiddleware(tm, staff, zap.NewNop())
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		de := apperrors.ToDomainError(err)
		return c.Status(de.HTTPStatus).JSON(fiber.Map{"code": de.Code})
	}})
	app.Get("/me", mw.Handle, func(c *fiber.Ctx) error {
		actor, ok := ActorFromContext(c)
		require.True(t, ok)
		return c.SendString(actor.ID)
	})
	app.Get("/reports", mw.Handle, RequireSupervisory(), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})
	return app, tm
}

func TestAuthMiddleware(t *testing.T) {
	store := repository.NewMemoryStore()
	app, tm := newProtectedApp(t, store.Staff())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, _, err := tm.GenerateToken(domain.Actor{ID: "bob", Name: "Bob", Role: domain.RoleStaff, Unit: "Pharmacy"})
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	member, err := store.Staff().GetByID(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "Pharmacy", member.Unit)
	assert.Nil(t, member.Phone)

	withPhone, _, err := tm.GenerateToken(domain.Actor{ID: "bob", Name: "Bob", Role: domain.RoleStaff, Unit: "Pharmacy", Phone: "+919800000002"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+withPhone)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A later token without the claim keeps the stored contact.
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	_, err = app.Test(req)
	require.NoError(t, err)
	member, err = store.Staff().GetByID(context.Background(), "bob")
	require.NoError(t, err)
	require.NotNil(t, member.Phone)
	assert.Equal(t, "+919800000002", *member.Phone)

	req = httptest.NewRequest(http.MethodGet, "/reports", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSystemTokens(t *testing.T) {
	ctx := context.Background()
	tokens := NewSystemTokens(repository.NewMemoryStore().SystemTokens(), bcrypt.MinCost)

	raw, issued, err := tokens.Issue(ctx, "lab poller")
	require.NoError(t, err)
	assert.True(t, issued.Active)

	got, err := tokens.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, got.ID)

	_, err = tokens.Verify(ctx, issued.ID+".wrong")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
	_, err = tokens.Verify(ctx, "missing.secret")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
	_, err = tokens.Verify(ctx, "nodot")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

	_, err = tokens.Register(ctx, raw, "again")
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		return c.Status(apperrors.ToDomainError(err).HTTPStatus).Send(nil)
	}})
	app.Post("/auto", tokens.Middleware(), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusCreated) })

	req := httptest.NewRequest(http.MethodPost, "/auto", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/auto", nil)
	req.Header.Set(InternalTokenHeader, raw)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}
