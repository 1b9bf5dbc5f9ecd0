package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	app      *fiber.App
	repo     auth.RepositoryManager
	resolver *auth.IdentityResolver
}

func newTestServer(t *testing.T, opts ...auth.ServiceOption) *testServer {
	t.Helper()

	repo := newTestRepo(t)
	codec := newTestTokenService(t)
	base := []auth.ServiceOption{auth.WithLogger(auth.NopLogger())}
	svc := auth.NewService(repo.Users(), newFastHasher(), codec, append(base, opts...)...)
	resolver := auth.NewIdentityResolver(codec, repo.Users(), auth.WithResolverLogger(auth.NopLogger()))

	controller := auth.NewAuthController(svc, resolver, auth.WithControllerLogger(auth.NopLogger()))
	return &testServer{
		app:      auth.NewApp(controller),
		repo:     repo,
		resolver: resolver,
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	body := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp, body
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func formRequest(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	return req
}

func bearerRequest(target, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	return req
}

func TestAuthController_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, auth.HealthMessage, body["message"])
	assert.Equal(t, "Authentication API is running. Visit /docs for API documentation.", body["message"])
}

func TestAuthController_UnknownRouteUsesErrorHandler(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["detail"])
}

func TestAuthController_Signup(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, jsonRequest(http.MethodPost, "/api/signup", `{"username":"alice","password":"s3cret"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "alice", body["username"])
	assert.NotEmpty(t, body["id"])
	assert.NotContains(t, body, "password_hash")
	assert.NotContains(t, body, "password")

	resp, body = srv.do(t, jsonRequest(http.MethodPost, "/api/signup", `{"username":"alice","password":"other"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Username already registered", body["detail"])

	count, err := srv.repo.Users().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAuthController_SignupValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing password", body: `{"username":"alice"}`},
		{name: "missing username", body: `{"password":"pw"}`},
		{name: "password too long", body: `{"username":"alice","password":"` + strings.Repeat("p", 73) + `"}`},
		{name: "not json", body: `{"username":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, jsonRequest(http.MethodPost, "/api/signup", tt.body))
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestAuthController_LoginAndMe(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.do(t, jsonRequest(http.MethodPost, "/api/signup", `{"username":"alice","password":"s3cret"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := srv.do(t, formRequest("/api/login", url.Values{"username": {"alice"}, "password": {"s3cret"}}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bearer", body["token_type"])
	assert.Equal(t, auth.LoginMessage, body["message"])
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)

	resp, body = srv.do(t, bearerRequest("/api/users/me", token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["username"])
	assert.NotContains(t, body, "password_hash")

	// JSON bodies are accepted too
	resp, _ = srv.do(t, jsonRequest(http.MethodPost, "/api/login", `{"username":"alice","password":"s3cret"}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthController_LoginFailures(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := srv.do(t, jsonRequest(http.MethodPost, "/api/signup", `{"username":"alice","password":"s3cret"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	tests := []struct {
		name     string
		username string
		password string
		detail   string
	}{
		{name: "unknown user", username: "ghost", password: "s3cret", detail: "You need to sign up!"},
		{name: "wrong password", username: "alice", password: "wrong", detail: "Incorrect password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, formRequest("/api/login", url.Values{"username": {tt.username}, "password": {tt.password}}))
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "Bearer", resp.Header.Get(fiber.HeaderWWWAuthenticate))
			assert.Equal(t, tt.detail, body["detail"])
			assert.NotContains(t, body, "access_token")
		})
	}
}

func TestAuthController_UnifiedLoginErrors(t *testing.T) {
	srv := newTestServer(t, auth.WithUnifiedLoginErrors(true))
	resp, _ := srv.do(t, jsonRequest(http.MethodPost, "/api/signup", `{"username":"alice","password":"s3cret"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, unknown := srv.do(t, formRequest("/api/login", url.Values{"username": {"ghost"}, "password": {"x"}}))
	_, wrong := srv.do(t, formRequest("/api/login", url.Values{"username": {"alice"}, "password": {"x"}}))
	assert.Equal(t, "Incorrect username or password", unknown["detail"])
	assert.Equal(t, unknown, wrong)
}

func TestAuthController_MeRejections(t *testing.T) {
	srv := newTestServer(t)

	for name, token := range map[string]string{
		"no token":      "",
		"garbage token": "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			resp, body := srv.do(t, bearerRequest("/api/users/me", token))
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "Bearer", resp.Header.Get(fiber.HeaderWWWAuthenticate))
			assert.Equal(t, "Could not validate credentials", body["detail"])
		})
	}
}
