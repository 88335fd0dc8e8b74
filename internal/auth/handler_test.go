package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/identity"
	_ "github.com/authgate/authgate/testing"
)

type fixture struct {
	router   http.Handler
	provider *identity.MemoryProvider
	repo     *mockRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider := identity.NewMemoryProvider(time.Hour)
	repo := newMockRepo()
	service := auth.NewService(nil, provider, repo)
	cookies := auth.NewCookieCodec(false, time.Hour, 7*24*time.Hour)
	handler := auth.NewHandler(nil, service, cookies, nil)

	r := chi.NewRouter()
	r.Route("/api/auth", handler.MountRoutes)
	return &fixture{router: r, provider: provider, repo: repo}
}

func (f *fixture) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func sessionCookies(t *testing.T, res *httptest.ResponseRecorder) (access, refresh *http.Cookie) {
	t.Helper()
	parsed := (&http.Response{Header: res.Header()}).Cookies()
	for _, c := range parsed {
		switch c.Name {
		case auth.AccessTokenCookie:
			access = c
		case auth.RefreshTokenCookie:
			refresh = c
		}
	}
	return access, refresh
}

const registerBody = `{"email":"a@x.com","password":"Passw0rd!","first_name":"A","last_name":"B"}`

func TestRegisterEndpoint(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/api/auth/register", registerBody)
	require.Equal(t, http.StatusCreated, res.Code)

	var user auth.UserResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &user))
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, "A", user.FirstName)
	assert.Equal(t, "B", user.LastName)
	assert.NotEmpty(t, user.ID)

	// Tokens never appear in response bodies.
	assert.NotContains(t, res.Body.String(), "access_token")
}

func TestRegisterDuplicateReturnsConflict(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/auth/register", registerBody).Code)

	res := f.do(t, http.MethodPost, "/api/auth/register", registerBody)
	require.Equal(t, http.StatusConflict, res.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &problem))
	assert.Equal(t, "Registration Failed", problem["title"])
	assert.Equal(t, float64(http.StatusConflict), problem["status"])
	assert.Equal(t, "/api/auth/register", problem["instance"])
}

func TestRegisterInvalidInput(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"bad email":      `{"email":"nope","password":"Passw0rd!","first_name":"A","last_name":"B"}`,
		"short password": `{"email":"a@x.com","password":"short","first_name":"A","last_name":"B"}`,
		"missing names":  `{"email":"a@x.com","password":"Passw0rd!"}`,
		"not json":       `{`,
	}
	for name, body := range cases {
		res := f.do(t, http.MethodPost, "/api/auth/register", body)
		assert.Equal(t, http.StatusBadRequest, res.Code, name)
	}
}

func TestLoginSetsBothCookies(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/auth/register", registerBody).Code)

	res := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`)
	require.Equal(t, http.StatusOK, res.Code)

	access, refresh := sessionCookies(t, res)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.NotEmpty(t, access.Value)
	assert.NotEmpty(t, refresh.Value)
	assert.True(t, access.HttpOnly)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, "/", access.Path)
	assert.Equal(t, "/", refresh.Path)
	assert.Equal(t, int(time.Hour.Seconds()), access.MaxAge)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), refresh.MaxAge)

	assert.NotContains(t, res.Body.String(), access.Value)
}

func TestLoginEnumerationSafe(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/auth/register", registerBody).Code)

	wrongPass := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"WrongPass1"}`)
	unknown := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"ghost@x.com","password":"WrongPass1"}`)

	require.Equal(t, http.StatusUnauthorized, wrongPass.Code)
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.JSONEq(t, wrongPass.Body.String(), unknown.Body.String())
}

func TestMeWithSessionCookies(t *testing.T) {
	f := newFixture(t)
	created := f.do(t, http.MethodPost, "/api/auth/register", registerBody)
	require.Equal(t, http.StatusCreated, created.Code)
	var registered auth.UserResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &registered))

	login := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`)
	require.Equal(t, http.StatusOK, login.Code)
	access, refresh := sessionCookies(t, login)

	res := f.do(t, http.MethodGet, "/api/auth/me", "", access, refresh)
	require.Equal(t, http.StatusOK, res.Code)

	var me auth.UserResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &me))
	assert.Equal(t, registered.ID, me.ID)
	assert.Equal(t, "a@x.com", me.Email)
	assert.Equal(t, "A", me.FirstName)
}

func TestMeWithoutCookie(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodGet, "/api/auth/me", "")
	require.Equal(t, http.StatusUnauthorized, res.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &problem))
	assert.Equal(t, "/api/auth/me", problem["instance"])
}

func TestMeWithInvalidCookieClearsSession(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodGet, "/api/auth/me", "", &http.Cookie{Name: auth.AccessTokenCookie, Value: "stale"})
	require.Equal(t, http.StatusUnauthorized, res.Code)

	access, refresh := sessionCookies(t, res)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.Empty(t, access.Value)
	assert.Empty(t, refresh.Value)
	assert.Equal(t, -1, access.MaxAge)
	assert.Equal(t, -1, refresh.MaxAge)
}

func TestRefreshRotatesCookies(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/auth/register", registerBody).Code)
	login := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`)
	_, refresh := sessionCookies(t, login)

	res := f.do(t, http.MethodPost, "/api/auth/refresh", "", refresh)
	require.Equal(t, http.StatusOK, res.Code)

	newAccess, newRefresh := sessionCookies(t, res)
	require.NotNil(t, newAccess)
	require.NotNil(t, newRefresh)
	assert.NotEqual(t, refresh.Value, newRefresh.Value)
}

func TestRefreshFailureClearsCookies(t *testing.T) {
	f := newFixture(t)

	// Missing refresh cookie.
	res := f.do(t, http.MethodPost, "/api/auth/refresh", "")
	require.Equal(t, http.StatusUnauthorized, res.Code)

	// Rejected refresh token: both cookies expired in the response.
	res = f.do(t, http.MethodPost, "/api/auth/refresh", "", &http.Cookie{Name: auth.RefreshTokenCookie, Value: "revoked"})
	require.Equal(t, http.StatusUnauthorized, res.Code)
	access, refresh := sessionCookies(t, res)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.Equal(t, -1, access.MaxAge)
	assert.Equal(t, -1, refresh.MaxAge)
}

func TestForgotPasswordIdenticalResponses(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/auth/register", registerBody).Code)

	known := f.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"a@x.com"}`)
	unknown := f.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"ghost@x.com"}`)

	require.Equal(t, http.StatusOK, known.Code)
	require.Equal(t, http.StatusOK, unknown.Code)
	assert.JSONEq(t, known.Body.String(), unknown.Body.String())
}

func TestResetPasswordEndpoint(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/auth/register", registerBody).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/auth/forgot-password", `{"email":"a@x.com"}`).Code)

	token := f.provider.RecoveryToken("a@x.com")
	require.NotEmpty(t, token)

	res := f.do(t, http.MethodPost, "/api/auth/reset-password", `{"token":"`+token+`","new_password":"NewPass456"}`)
	require.Equal(t, http.StatusOK, res.Code)

	// New password works, old does not.
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"NewPass456"}`).Code)
}

func TestResetPasswordBadToken(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodPost, "/api/auth/reset-password", `{"token":"bogus","new_password":"NewPass456"}`)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &problem))
	assert.Equal(t, "Invalid or Expired Token", problem["title"])
}

func TestChangePasswordEndpoint(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/auth/register", registerBody).Code)
	login := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`)
	access, refresh := sessionCookies(t, login)

	// Wrong current password: 401 and the session cookie still authenticates.
	res := f.do(t, http.MethodPost, "/api/auth/change-password",
		`{"current_password":"WrongPass1","new_password":"NewPass456"}`, access, refresh)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/auth/me", "", access).Code)

	// Correct current password: 200 and fresh cookies.
	res = f.do(t, http.MethodPost, "/api/auth/change-password",
		`{"current_password":"Passw0rd!","new_password":"NewPass456"}`, access, refresh)
	require.Equal(t, http.StatusOK, res.Code)
	newAccess, _ := sessionCookies(t, res)
	require.NotNil(t, newAccess)
	assert.NotEqual(t, access.Value, newAccess.Value)
}

func TestLogoutClearsCookies(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/auth/register", registerBody).Code)
	login := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`)
	access, refresh := sessionCookies(t, login)

	res := f.do(t, http.MethodPost, "/api/auth/logout", "", access, refresh)
	require.Equal(t, http.StatusOK, res.Code)

	cleared, clearedRefresh := sessionCookies(t, res)
	require.NotNil(t, cleared)
	require.NotNil(t, clearedRefresh)
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Equal(t, -1, clearedRefresh.MaxAge)

	// The revoked access token no longer authenticates.
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/auth/me", "", access).Code)
}

func TestUpdateProfilePictureEndpoint(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/auth/register", registerBody).Code)
	login := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`)
	access, _ := sessionCookies(t, login)

	res := f.do(t, http.MethodPatch, "/api/auth/me/picture",
		`{"profile_pic_url":"https://cdn.example.com/p.png"}`, access)
	require.Equal(t, http.StatusOK, res.Code)

	var user auth.UserResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &user))
	require.NotNil(t, user.ProfilePic)
	assert.Equal(t, "https://cdn.example.com/p.png", *user.ProfilePic)
}

// End-to-end walk of the documented happy path.
func TestRegisterLoginMeFlow(t *testing.T) {
	f := newFixture(t)

	created := f.do(t, http.MethodPost, "/api/auth/register", registerBody)
	require.Equal(t, http.StatusCreated, created.Code)
	var registered auth.UserResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &registered))

	require.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/auth/register", registerBody).Code)

	login := f.do(t, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`)
	require.Equal(t, http.StatusOK, login.Code)
	access, refresh := sessionCookies(t, login)
	require.NotNil(t, access)
	require.NotNil(t, refresh)

	me := f.do(t, http.MethodGet, "/api/auth/me", "", access, refresh)
	require.Equal(t, http.StatusOK, me.Code)
	var current auth.UserResponse
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &current))
	assert.Equal(t, registered.ID, current.ID)
	assert.Equal(t, registered.Email, current.Email)
}
