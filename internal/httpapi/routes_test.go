package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/tmarkov/authgate/internal/directory"
	"github.com/tmarkov/authgate/internal/oauth"
	"github.com/tmarkov/authgate/internal/service"
)

type fakeProviderBackend struct {
	server       *httptest.Server
	tokenPayload map[string]any
	userPayload  map[string]any
}

// newFakeProviderBackend runs a stand-in for an OAuth provider: one token
// endpoint and one userinfo endpoint, both returning canned payloads.
func newFakeProviderBackend(t *testing.T) *fakeProviderBackend {
	t.Helper()
	backend := &fakeProviderBackend{
		tokenPayload: map[string]any{"access_token": "provider-access-token", "token_type": "bearer"},
		userPayload:  map[string]any{"id": "google-user-1", "email": "alice@example.com", "name": "Alice Example"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(backend.tokenPayload)
	})
	mux.HandleFunc("/userinfo", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(backend.userPayload)
	})
	backend.server = httptest.NewServer(mux)
	t.Cleanup(backend.server.Close)
	return backend
}

func newTestRouter(t *testing.T, backend *fakeProviderBackend) (*gin.Engine, *service.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	databasePath := filepath.Join(t.TempDir(), "routes_test.db")
	db, openErr := directory.Open(context.Background(), "sqlite://"+databasePath)
	if openErr != nil {
		t.Fatalf("unexpected open error: %v", openErr)
	}
	users := directory.NewDirectory(db, logger)

	providerConfig := oauth.Config{
		Google: oauth.ProviderConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURI:  "https://app.example.com/auth/google/callback",
		},
	}
	httpClient := http.DefaultClient
	if backend != nil {
		providerConfig.Google.TokenEndpointOverride = backend.server.URL + "/token"
		providerConfig.Google.UserInfoEndpointOverride = backend.server.URL + "/userinfo"
		httpClient = backend.server.Client()
	}
	exchanger := oauth.NewExchanger(httpClient, nil, logger)

	orchestrator := service.New(service.Config{
		TokenSigningKey: []byte("test-signing-key"),
		TokenIssuer:     "authgate",
		TokenTTL:        30 * time.Minute,
	}, users, providerConfig, exchanger, httpClient, nil, logger, nil)

	router := gin.New()
	MountAuthRoutes(router, orchestrator, logger)
	protected := router.Group("/api", RequireBearerToken(orchestrator))
	protected.GET("/me", HandleCurrentUser(orchestrator, logger))
	return router, orchestrator
}

func performJSON(t *testing.T, router *gin.Engine, method string, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if decodeErr := json.Unmarshal(recorder.Body.Bytes(), &payload); decodeErr != nil {
		t.Fatalf("response body does not decode: %v (body %q)", decodeErr, recorder.Body.String())
	}
	return payload
}

func TestRegisterCreatesUser(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, nil)

	recorder := performJSON(t, router, http.MethodPost, "/auth/register",
		`{"email":"alice@example.com","password":"longenough1","full_name":"Alice Example"}`, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["email"] != "alice@example.com" {
		t.Fatalf("unexpected email in response: %v", payload["email"])
	}
	if _, hasPassword := payload["password"]; hasPassword {
		t.Fatalf("the response must not echo the password")
	}
	if _, hasHash := payload["hashed_password"]; hasHash {
		t.Fatalf("the response must not expose the password hash")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, nil)

	first := performJSON(t, router, http.MethodPost, "/auth/register",
		`{"email":"alice@example.com","password":"longenough1"}`, nil)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	second := performJSON(t, router, http.MethodPost, "/auth/register",
		`{"email":"Alice@Example.com","password":"different-pass"}`, nil)
	if second.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a duplicate email, got %d", second.Code)
	}
	payload := decodeBody(t, second)
	if payload["detail"] != "A user with email 'alice@example.com' already exists." {
		t.Fatalf("unexpected detail: %v", payload["detail"])
	}
}

func TestRegisterRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, nil)

	cases := []string{
		`{"email":"not-an-email","password":"longenough1"}`,
		`{"email":"alice@example.com","password":"short"}`,
		`{"email":"alice@example.com"}`,
		`not json`,
	}
	for _, body := range cases {
		recorder := performJSON(t, router, http.MethodPost, "/auth/register", body, nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", body, recorder.Code)
		}
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	t.Parallel()

	router, orchestrator := newTestRouter(t, nil)

	register := performJSON(t, router, http.MethodPost, "/auth/register",
		`{"email":"alice@example.com","password":"longenough1"}`, nil)
	if register.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", register.Code)
	}

	login := performJSON(t, router, http.MethodPost, "/auth/login",
		`{"email":"alice@example.com","password":"longenough1"}`, nil)
	if login.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", login.Code, login.Body.String())
	}
	payload := decodeBody(t, login)
	if payload["token_type"] != "bearer" {
		t.Fatalf("expected token_type bearer, got %v", payload["token_type"])
	}
	accessToken, _ := payload["access_token"].(string)
	subject, valid := orchestrator.VerifySubject(accessToken)
	if !valid || subject != "alice@example.com" {
		t.Fatalf("expected the issued token to verify for alice@example.com, got %q valid=%v", subject, valid)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, nil)

	register := performJSON(t, router, http.MethodPost, "/auth/register",
		`{"email":"alice@example.com","password":"longenough1"}`, nil)
	if register.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", register.Code)
	}

	for _, body := range []string{
		`{"email":"alice@example.com","password":"wrong-password"}`,
		`{"email":"nobody@example.com","password":"longenough1"}`,
	} {
		recorder := performJSON(t, router, http.MethodPost, "/auth/login", body, nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", body, recorder.Code)
		}
		payload := decodeBody(t, recorder)
		if payload["detail"] != "Invalid credentials" {
			t.Fatalf("unexpected detail: %v", payload["detail"])
		}
	}
}

func TestOAuthURLForConfiguredProvider(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, nil)

	recorder := performJSON(t, router, http.MethodGet, "/auth/google/url", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	authorizeURL, _ := payload["url"].(string)
	if !strings.Contains(authorizeURL, "client_id=client-id") {
		t.Fatalf("expected the client id in the authorize URL, got %q", authorizeURL)
	}
	if !strings.Contains(authorizeURL, "response_type=code") {
		t.Fatalf("expected response_type=code, got %q", authorizeURL)
	}
}

func TestOAuthURLUnsupportedProvider(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, nil)

	recorder := performJSON(t, router, http.MethodGet, "/auth/facebook/url", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["detail"] != "Unsupported OAuth provider: facebook" {
		t.Fatalf("unexpected detail: %v", payload["detail"])
	}
}

func TestOAuthCallbackUnsupportedProvider(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, nil)

	recorder := performJSON(t, router, http.MethodGet, "/auth/facebook/callback?code=authorization-code", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["detail"] != "Unsupported OAuth provider: facebook" {
		t.Fatalf("unexpected detail: %v", payload["detail"])
	}
}

func TestOAuthCallbackMissingCode(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, nil)

	recorder := performJSON(t, router, http.MethodGet, "/auth/google/callback", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["detail"] != "Authorization code not provided" {
		t.Fatalf("unexpected detail: %v", payload["detail"])
	}
}

func TestOAuthCallbackIssuesTokenAndCreatesUser(t *testing.T) {
	t.Parallel()

	backend := newFakeProviderBackend(t)
	router, orchestrator := newTestRouter(t, backend)

	callback := performJSON(t, router, http.MethodGet, "/auth/google/callback?code=authorization-code", "", nil)
	if callback.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", callback.Code, callback.Body.String())
	}
	payload := decodeBody(t, callback)
	accessToken, _ := payload["access_token"].(string)
	subject, valid := orchestrator.VerifySubject(accessToken)
	if !valid || subject != "alice@example.com" {
		t.Fatalf("expected a token for alice@example.com, got %q valid=%v", subject, valid)
	}

	// A repeated callback reuses the same account.
	repeat := performJSON(t, router, http.MethodGet, "/auth/google/callback?code=authorization-code", "", nil)
	if repeat.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat callback, got %d: %s", repeat.Code, repeat.Body.String())
	}
}

func TestOAuthCallbackMissingAccessToken(t *testing.T) {
	t.Parallel()

	backend := newFakeProviderBackend(t)
	backend.tokenPayload = map[string]any{"token_type": "bearer"}
	router, _ := newTestRouter(t, backend)

	recorder := performJSON(t, router, http.MethodGet, "/auth/google/callback?code=authorization-code", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["detail"] != "Failed to retrieve access token" {
		t.Fatalf("unexpected detail: %v", payload["detail"])
	}
}

func TestOAuthCallbackMissingEmail(t *testing.T) {
	t.Parallel()

	backend := newFakeProviderBackend(t)
	backend.userPayload = map[string]any{"id": "google-user-1", "name": "Alice Example"}
	router, _ := newTestRouter(t, backend)

	recorder := performJSON(t, router, http.MethodGet, "/auth/google/callback?code=authorization-code", "", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["detail"] != "Email not provided by the OAuth provider" {
		t.Fatalf("unexpected detail: %v", payload["detail"])
	}
}

func TestOAuthCallbackExchangeFailureIsServerError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
	})
	backend := &fakeProviderBackend{server: httptest.NewServer(mux)}
	t.Cleanup(backend.server.Close)

	router, _ := newTestRouter(t, backend)

	recorder := performJSON(t, router, http.MethodGet, "/auth/google/callback?code=authorization-code", "", nil)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["detail"] != "Failed to authenticate with google" {
		t.Fatalf("unexpected detail: %v", payload["detail"])
	}
}

func TestCurrentUserRequiresBearerToken(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, nil)

	for _, headers := range []map[string]string{
		nil,
		{"Authorization": "Basic abc"},
		{"Authorization": "Bearer not-a-real-token"},
	} {
		recorder := performJSON(t, router, http.MethodGet, "/api/me", "", headers)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for headers %v, got %d", headers, recorder.Code)
		}
		payload := decodeBody(t, recorder)
		if payload["detail"] != "Could not validate credentials" {
			t.Fatalf("unexpected detail: %v", payload["detail"])
		}
	}
}

func TestCurrentUserReturnsAuthenticatedRecord(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, nil)

	register := performJSON(t, router, http.MethodPost, "/auth/register",
		`{"email":"alice@example.com","password":"longenough1","full_name":"Alice Example"}`, nil)
	if register.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", register.Code)
	}
	login := performJSON(t, router, http.MethodPost, "/auth/login",
		`{"email":"alice@example.com","password":"longenough1"}`, nil)
	if login.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", login.Code)
	}
	accessToken, _ := decodeBody(t, login)["access_token"].(string)

	me := performJSON(t, router, http.MethodGet, "/api/me", "", map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
	if me.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", me.Code, me.Body.String())
	}
	payload := decodeBody(t, me)
	if payload["email"] != "alice@example.com" || payload["full_name"] != "Alice Example" {
		t.Fatalf("unexpected current user payload: %v", payload)
	}
}
