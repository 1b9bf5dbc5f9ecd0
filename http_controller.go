package auth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-auth-service/middleware/jwtware"
)

const (
	// HealthMessage is returned by the root route
	HealthMessage = "Authentication API is running. Visit /docs for API documentation."
	// LoginMessage accompanies a successful login response
	LoginMessage = "Successfully logged in!"
)

type AuthControllerRoutes struct {
	Health string
	Signup string
	Login  string
	Me     string
}

type AuthController struct {
	Debug          bool
	Logger         Logger
	Service        *Service
	Resolver       *IdentityResolver
	Routes         *AuthControllerRoutes
	ContextKey     string
	TokenLookup    string
	AllowedOrigins []string
}

type AuthControllerOption func(*AuthController) *AuthController

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = resolveLogger(logger)
		return c
	}
}

// WithAllowedOrigins sets the CORS origins
func WithAllowedOrigins(origins ...string) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if len(origins) > 0 {
			c.AllowedOrigins = origins
		}
		return c
	}
}

// WithTokenLookup overrides where the bearer middleware looks for tokens
func WithTokenLookup(lookup string) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if lookup != "" {
			c.TokenLookup = lookup
		}
		return c
	}
}

func NewAuthController(svc *Service, resolver *IdentityResolver, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:         defLogger{},
		Service:        svc,
		Resolver:       resolver,
		ContextKey:     "user",
		AllowedOrigins: []string{"*"},
		Routes: &AuthControllerRoutes{
			Health: "/",
			Signup: "/api/signup",
			Login:  "/api/login",
			Me:     "/api/users/me",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing Service in auth controller...")
	}

	if c.Resolver == nil {
		panic("Missing IdentityResolver in auth controller...")
	}

	return c
}

// NewApp builds a fiber app with error handling and CORS, and mounts the
// auth routes through the go-router fiber adapter.
func NewApp(controller *AuthController, configs ...fiber.Config) *fiber.App {
	_, app := NewServer(controller, configs...)
	return app
}

// NewServer is NewApp that also returns the router server wrapping the app
func NewServer(controller *AuthController, configs ...fiber.Config) (router.Server[*fiber.App], *fiber.App) {
	cfg := fiber.Config{}
	if len(configs) > 0 {
		cfg = configs[0]
	}
	cfg.ErrorHandler = controller.ErrorHandler

	app := fiber.New(cfg)
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(controller.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return app
	})

	RegisterAuthRoutes(srv.Router(), controller)
	return srv, app
}

// RegisterAuthRoutes mounts the controller on router
func RegisterAuthRoutes[T any](app router.Router[T], controller *AuthController) {
	app.Get(controller.Routes.Health, controller.Health).SetName("health.get")
	app.Post(controller.Routes.Signup, controller.Signup).SetName("signup.post")
	app.Post(controller.Routes.Login, controller.Login).SetName("login.post")
	app.Get(controller.Routes.Me, controller.Me, controller.ProtectedRoute()).SetName("me.get")
}

// ProtectedRoute requires a bearer token that resolves to a user
func (a *AuthController) ProtectedRoute() router.MiddlewareFunc {
	return jwtware.New(jwtware.Config[*User]{
		Resolver:    a.Resolver,
		ContextKey:  a.ContextKey,
		TokenLookup: a.TokenLookup,
		ErrorHandler: func(ctx router.Context, err error) error {
			if errors.IsInternal(err) {
				return a.RenderError(ctx, err)
			}
			return a.RenderError(ctx, ErrUnauthenticated)
		},
		ContextEnricher: func(ctx context.Context, user *User) context.Context {
			return WithContext(ctx, user)
		},
	})
}

func (a *AuthController) Health(ctx router.Context) error {
	return ctx.JSON(fiber.StatusOK, fiber.Map{"message": HealthMessage})
}

// SignupRequest payload
type SignupRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r SignupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordBytes)),
	)
}

// LoginRequest payload. The form field names follow the OAuth2 password
// grant so standard clients can post to it.
type LoginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// LoginResponse is the login payload sent to clients
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Message     string `json:"message"`
}

func (a *AuthController) Signup(ctx router.Context) error {
	payload := new(SignupRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.RenderError(ctx, errors.Wrap(err, errors.CategoryBadInput, "invalid request body").
			WithCode(fiber.StatusUnprocessableEntity))
	}

	if err := payload.Validate(); err != nil {
		return a.RenderError(ctx, errors.FromOzzoValidation(err, "invalid signup request"))
	}

	user, err := a.Service.Signup(ctx.Context(), payload.Username, payload.Password)
	if err != nil {
		return a.RenderError(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, user.View())
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.RenderError(ctx, errors.Wrap(err, errors.CategoryBadInput, "invalid request body").
			WithCode(fiber.StatusUnprocessableEntity))
	}

	if err := payload.Validate(); err != nil {
		return a.RenderError(ctx, errors.FromOzzoValidation(err, "invalid login request"))
	}

	res, err := a.Service.Login(ctx.Context(), payload.Username, payload.Password)
	if err != nil {
		return a.RenderError(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, LoginResponse{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		Message:     LoginMessage,
	})
}

func (a *AuthController) Me(ctx router.Context) error {
	user, ok := jwtware.Principal[*User](ctx, a.ContextKey)
	if !ok {
		user, ok = FromContext(ctx.Context())
	}
	if !ok || user == nil {
		return a.RenderError(ctx, ErrUnauthenticated)
	}
	return ctx.JSON(fiber.StatusOK, user.View())
}

// RenderError writes err as {"detail": ...} with a status derived from the
// error category.
func (a *AuthController) RenderError(ctx router.Context, err error) error {
	status, body := a.errorBody(ctx.Path(), err)
	if status == fiber.StatusUnauthorized {
		ctx.SetHeader(fiber.HeaderWWWAuthenticate, "Bearer")
	}
	return ctx.JSON(status, body)
}

// ErrorHandler is the fiber fallback for errors raised outside the routed
// handlers, such as unknown routes and recovered panics.
func (a *AuthController) ErrorHandler(ctx *fiber.Ctx, err error) error {
	status, body := a.errorBody(ctx.Path(), err)
	if status == fiber.StatusUnauthorized {
		ctx.Set(fiber.HeaderWWWAuthenticate, "Bearer")
	}
	return ctx.Status(status).JSON(body)
}

func (a *AuthController) errorBody(path string, err error) (int, fiber.Map) {
	status, detail := a.describe(err)

	if status >= fiber.StatusInternalServerError {
		a.Logger.Error("request failed", "path", path, "error", err)
	} else if a.Debug {
		a.Logger.Debug("request rejected", "path", path, "status", status, "error", err)
	}

	body := fiber.Map{"detail": detail}
	var richErr *errors.Error
	if errors.As(err, &richErr) && len(richErr.ValidationErrors) > 0 {
		body["errors"] = richErr.ValidationMap()
	}
	return status, body
}

func (a *AuthController) describe(err error) (int, string) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, fiberErr.Message
	}

	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return fiber.StatusInternalServerError, "Internal server error"
	}

	switch richErr.Category {
	case errors.CategoryConflict:
		// signup conflicts are plain bad requests for clients
		return fiber.StatusBadRequest, richErr.Message
	case errors.CategoryAuth:
		return fiber.StatusUnauthorized, richErr.Message
	case errors.CategoryValidation, errors.CategoryBadInput:
		return fiber.StatusUnprocessableEntity, richErr.Message
	case errors.CategoryNotFound:
		return fiber.StatusNotFound, richErr.Message
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}
