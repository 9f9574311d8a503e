package auth

import (
	"context"
	"net/http"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"

	"github.com/goliatone/go-shelf-auth/middleware/jwtware"
)

// DefaultContextKey is the router locals key holding access token claims
const DefaultContextKey = "user"

// DefaultRefreshContextKey is the router locals key holding refresh token claims
const DefaultRefreshContextKey = "refresh"

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Patch(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// AuthControllerConfig configures the HTTP controller.
type AuthControllerConfig struct {
	// PathPrefix for routes (default: "/auth")
	PathPrefix string

	// ContextKey is the router locals key for access claims (default: "user")
	ContextKey string

	// RefreshContextKey is the router locals key for refresh claims (default: "refresh")
	RefreshContextKey string

	// TokenLookup for both guards (default: "header:Authorization")
	TokenLookup string

	// AuthScheme for header lookups (default: "Bearer")
	AuthScheme string

	Debug bool
}

// AuditLogReader lists the audit trail of an entity
type AuditLogReader interface {
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*AuditLog, error)
}

// AuthController exposes the Auther over JSON routes.
type AuthController struct {
	auther *Auther
	config AuthControllerConfig
	logger Logger
	audit  AuditLogReader
}

// NewAuthController creates the controller
func NewAuthController(auther *Auther, cfg AuthControllerConfig) *AuthController {
	if auther == nil {
		panic("Missing Auther in auth controller...")
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/auth"
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.RefreshContextKey == "" {
		cfg.RefreshContextKey = DefaultRefreshContextKey
	}
	if cfg.TokenLookup == "" {
		cfg.TokenLookup = "header:" + router.HeaderAuthorization
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return &AuthController{
		auther: auther,
		config: cfg,
		logger: defLogger{},
	}
}

func (a *AuthController) WithLogger(logger Logger) *AuthController {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// WithAuditLogs enables the admin only account audit route
func (a *AuthController) WithAuditLogs(reader AuditLogReader) *AuthController {
	a.audit = reader
	return a
}

// RegisterRoutes registers the auth routes.
func (a *AuthController) RegisterRoutes(group RouteRegistrar) {
	p := a.config.PathPrefix
	access := a.AccessGuard()
	refresh := a.RefreshGuard()

	group.Post(p+"/signup", a.Signup).SetName("auth.signup")
	group.Post(p+"/signin", a.Signin).SetName("auth.signin")
	group.Post(p+"/refresh", a.Refresh, refresh).SetName("auth.refresh")
	group.Post(p+"/logout", a.Logout, access).SetName("auth.logout")
	group.Get(p+"/profile", a.Profile, access).SetName("auth.profile")
	group.Patch(p+"/change-password", a.ChangePassword, access).SetName("auth.change-password")
	group.Get(p+"/status", a.Status, access).SetName("auth.status")

	if a.audit != nil {
		group.Get(p+"/audit/:id", a.AccountAudit, a.RoleGuard(RoleAdmin)).SetName("auth.audit")
	}
}

// AccessGuard validates access tokens and runs ValidateAccount on the subject.
func (a *AuthController) AccessGuard() router.MiddlewareFunc {
	return jwtware.New(a.accessGuardConfig())
}

// RoleGuard is AccessGuard for accounts holding at least minimum.
// Lower roles get 403.
func (a *AuthController) RoleGuard(minimum UserRole) router.MiddlewareFunc {
	cfg := a.accessGuardConfig()
	cfg.MinimumRole = minimum.String()
	return jwtware.New(cfg)
}

func (a *AuthController) accessGuardConfig() jwtware.Config {
	cfg := jwtware.Config{
		ContextKey:      a.config.ContextKey,
		TokenLookup:     a.config.TokenLookup,
		AuthScheme:      a.config.AuthScheme,
		TokenValidator:  AccessTokenValidator(a.auther.TokenService()),
		ContextEnricher: ContextEnricherAdapter,
		ErrorHandler:    a.renderError,
	}
	RegisterValidationListeners(&cfg, AccountValidationListener(a.auther))
	return cfg
}

// RefreshGuard validates refresh tokens. Fingerprint checks happen in RefreshTokens.
func (a *AuthController) RefreshGuard() router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ContextKey:     a.config.RefreshContextKey,
		TokenLookup:    a.config.TokenLookup,
		AuthScheme:     a.config.AuthScheme,
		TokenValidator: RefreshTokenValidator(a.auther.TokenService()),
		ErrorHandler: func(ctx router.Context, err error) error {
			return a.renderError(ctx, ErrAccessDenied)
		},
	})
}

// SignupRequest is the signup payload
type SignupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

var (
	upperRx   = regexp.MustCompile(`[A-Z]`)
	lowerRx   = regexp.MustCompile(`[a-z]`)
	digitRx   = regexp.MustCompile(`\d`)
	specialRx = regexp.MustCompile(`[@$!%*?&]`)
)

func passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(8, 128),
		validation.Match(upperRx).Error("must contain an uppercase letter"),
		validation.Match(lowerRx).Error("must contain a lowercase letter"),
		validation.Match(digitRx).Error("must contain a number"),
		validation.Match(specialRx).Error("must contain a special character"),
	}
}

// Validate will run validation rules
func (r SignupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, passwordRules()...),
		validation.Field(&r.FirstName, validation.Required, validation.Length(2, 100)),
		validation.Field(&r.LastName, validation.Required, validation.Length(2, 100)),
	)
}

// SigninRequest is the signin payload
type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r SigninRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// ChangePasswordRequest is the change password payload
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Validate will run validation rules
func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, passwordRules()...),
	)
}

func (a *AuthController) Signup(ctx router.Context) error {
	payload := new(SignupRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.renderError(ctx, NewValidationError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.renderError(ctx, NewValidationError(err))
	}

	res, err := a.auther.Signup(a.requestContext(ctx), SignupInput{
		Email:     payload.Email,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
	})
	if err != nil {
		return a.renderError(ctx, err)
	}

	if a.config.Debug {
		a.logger.Debug("signup completed", "user", print.MaybePrettyJSON(res.User))
	}

	return ctx.JSON(http.StatusCreated, res)
}

func (a *AuthController) Signin(ctx router.Context) error {
	payload := new(SigninRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.renderError(ctx, NewValidationError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.renderError(ctx, NewValidationError(err))
	}

	res, err := a.auther.Signin(ctx.Context(), SigninInput{
		Email:    payload.Email,
		Password: payload.Password,
	}, requestOrigin(ctx))
	if err != nil {
		return a.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, res)
}

func (a *AuthController) Refresh(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.config.RefreshContextKey)
	if !ok {
		return a.renderError(ctx, ErrAccessDenied)
	}

	id, err := ParseAccountID(claims.UserID())
	if err != nil {
		return a.renderError(ctx, ErrAccessDenied)
	}

	raw, err := jwtware.ExtractRawTokenFromContext(ctx, jwtware.GetExtractors(a.config.TokenLookup, a.config.AuthScheme))
	if err != nil {
		return a.renderError(ctx, ErrAccessDenied)
	}

	pair, err := a.auther.RefreshTokens(a.requestContext(ctx), id, raw)
	if err != nil {
		return a.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, pair)
}

func (a *AuthController) Logout(ctx router.Context) error {
	id, err := a.accountID(ctx)
	if err != nil {
		return a.renderError(ctx, err)
	}

	res, err := a.auther.Logout(a.requestContext(ctx), id)
	if err != nil {
		return a.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, res)
}

func (a *AuthController) Profile(ctx router.Context) error {
	id, err := a.accountID(ctx)
	if err != nil {
		return a.renderError(ctx, err)
	}

	profile, err := a.auther.GetProfile(ctx.Context(), id)
	if err != nil {
		return a.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, profile)
}

func (a *AuthController) ChangePassword(ctx router.Context) error {
	id, err := a.accountID(ctx)
	if err != nil {
		return a.renderError(ctx, err)
	}

	payload := new(ChangePasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.renderError(ctx, NewValidationError(err))
	}

	if err := payload.Validate(); err != nil {
		return a.renderError(ctx, NewValidationError(err))
	}

	res, err := a.auther.ChangePassword(a.requestContext(ctx), id, payload.CurrentPassword, payload.NewPassword)
	if err != nil {
		return a.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, res)
}

func (a *AuthController) Status(ctx router.Context) error {
	claims, _ := GetRouterClaims(ctx, a.config.ContextKey)
	return ctx.JSON(router.StatusOK, a.auther.Status(claims))
}

// AccountAudit lists the audit trail of the account in the id param
func (a *AuthController) AccountAudit(ctx router.Context) error {
	if a.audit == nil {
		return a.renderError(ctx, ErrAccessDenied)
	}

	id, err := ParseAccountID(ctx.Param("id"))
	if err != nil {
		return a.renderError(ctx, err)
	}

	records, err := a.audit.ListByEntity(ctx.Context(), AuditEntityUser, id.String())
	if err != nil {
		return a.renderError(ctx, repositoryError(err, "failed to list audit logs"))
	}

	return ctx.JSON(router.StatusOK, records)
}

func (a *AuthController) accountID(ctx router.Context) (uuid.UUID, error) {
	claims, ok := GetRouterClaims(ctx, a.config.ContextKey)
	if !ok {
		return uuid.Nil, ErrUnableToFindSession
	}
	return ParseAccountID(claims.UserID())
}

func (a *AuthController) requestContext(ctx router.Context) context.Context {
	return WithOrigin(ctx.Context(), requestOrigin(ctx))
}

func requestOrigin(ctx router.Context) Origin {
	return Origin{
		IPAddress: ctx.IP(),
		UserAgent: ctx.Header("User-Agent"),
	}
}

func (a *AuthController) renderError(ctx router.Context, err error) error {
	if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		err = ErrTokenMalformed
	}

	if errors.Is(err, jwtware.ErrInsufficientRole) {
		err = ErrAccessDenied
	}

	status := HTTPStatus(err)
	message := http.StatusText(status)

	var richErr *errors.Error
	if errors.As(err, &richErr) && status < http.StatusInternalServerError {
		message = richErr.Message
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("auth request failed", "error", err)
	}

	body := map[string]any{
		"statusCode": status,
		"message":    message,
		"error":      http.StatusText(status),
	}

	if HasTextCode(err, TextCodeInvalidPayload) {
		body["validation"] = validationErrors(err)
	}

	return ctx.JSON(status, body)
}

func validationErrors(err error) map[string]string {
	out := map[string]string{}
	var errs validation.Errors
	if errors.As(err, &errs) {
		for field, fieldErr := range errs {
			out[field] = fieldErr.Error()
		}
	}
	return out
}
