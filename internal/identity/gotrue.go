package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GoTrueClient talks to a GoTrue-compatible identity endpoint over HTTP.
type GoTrueClient struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
}

// GoTrueConfig carries connection settings for the client.
type GoTrueConfig struct {
	BaseURL    string
	AnonKey    string
	ServiceKey string
	Timeout    time.Duration
}

// NewGoTrueClient constructs a new client.
func NewGoTrueClient(cfg GoTrueConfig) *GoTrueClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoTrueClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		anonKey:    cfg.AnonKey,
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type gotrueUser struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

type gotrueSession struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int         `json:"expires_in"`
	TokenType    string      `json:"token_type"`
	User         *gotrueUser `json:"user"`
}

type gotrueError struct {
	Code             any    `json:"code"`
	Msg              string `json:"msg"`
	Error_           string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *gotrueError) message() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.ErrorDescription != "":
		return e.ErrorDescription
	default:
		return e.Error_
	}
}

// signupResponse covers both answer shapes of POST /signup: a bare user when
// email confirmation is pending, or a session envelope with a nested user
// when autoconfirm is enabled.
type signupResponse struct {
	gotrueUser
	User *gotrueUser `json:"user"`
}

// SignUp registers a new account with the provider.
func (c *GoTrueClient) SignUp(ctx context.Context, email, password string) (*Account, error) {
	var resp signupResponse
	err := c.do(ctx, http.MethodPost, "/signup", c.anonKey, "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	user := resp.gotrueUser
	if user.ID == "" && resp.User != nil {
		user = *resp.User
	}
	if user.ID == "" {
		return nil, fmt.Errorf("identity: signup returned no user")
	}
	account := toAccount(&user)
	return &account, nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var sess gotrueSession
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", c.anonKey, "", map[string]string{
		"email":    email,
		"password": password,
	}, &sess)
	if err != nil {
		return nil, err
	}
	return toSession(&sess)
}

// RefreshSession rotates a session using its refresh token.
func (c *GoTrueClient) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	var sess gotrueSession
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", c.anonKey, "", map[string]string{
		"refresh_token": refreshToken,
	}, &sess)
	if err != nil {
		return nil, err
	}
	return toSession(&sess)
}

// SendRecovery asks the provider to email a password recovery token.
func (c *GoTrueClient) SendRecovery(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/recover", c.anonKey, "", map[string]string{
		"email": email,
	}, nil)
}

// VerifyRecovery exchanges a recovery token for a session.
func (c *GoTrueClient) VerifyRecovery(ctx context.Context, token string) (*Session, error) {
	var sess gotrueSession
	err := c.do(ctx, http.MethodPost, "/verify", c.anonKey, "", map[string]string{
		"type":  "recovery",
		"token": token,
	}, &sess)
	if err != nil {
		return nil, err
	}
	return toSession(&sess)
}

// UpdatePassword sets a new password for the session owner.
func (c *GoTrueClient) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	return c.do(ctx, http.MethodPut, "/user", c.anonKey, accessToken, map[string]string{
		"password": newPassword,
	}, nil)
}

// GetUser resolves the account behind an access token.
func (c *GoTrueClient) GetUser(ctx context.Context, accessToken string) (*Account, error) {
	var user gotrueUser
	if err := c.do(ctx, http.MethodGet, "/user", c.anonKey, accessToken, nil, &user); err != nil {
		return nil, err
	}
	account := toAccount(&user)
	return &account, nil
}

// SignOut revokes the session behind an access token.
func (c *GoTrueClient) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", c.anonKey, accessToken, nil, nil)
}

// DeleteAccount removes an account using the service-role key.
func (c *GoTrueClient) DeleteAccount(ctx context.Context, accountID string) error {
	return c.do(ctx, http.MethodDelete, "/admin/users/"+accountID, c.serviceKey, c.serviceKey, nil, nil)
}

func (c *GoTrueClient) do(ctx context.Context, method, path, apikey, bearer string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("identity: marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("identity: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apikey != "" {
		req.Header.Set("apikey", apikey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return c.mapError(path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("identity: decode response: %w", err)
	}
	return nil
}

// mapError translates provider HTTP failures into the package's typed errors.
func (c *GoTrueClient) mapError(path string, resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var gerr gotrueError
	_ = json.Unmarshal(payload, &gerr)
	msg := strings.ToLower(gerr.message())

	switch {
	case strings.Contains(msg, "already registered") || strings.Contains(msg, "already been registered"):
		return ErrEmailTaken
	case strings.Contains(msg, "password should be") || strings.Contains(msg, "weak password"):
		return ErrWeakPassword
	case strings.Contains(msg, "user not found"):
		return ErrUserNotFound
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if strings.HasPrefix(path, "/token?grant_type=password") {
			return ErrInvalidCredentials
		}
		if strings.HasPrefix(path, "/token") || strings.HasPrefix(path, "/verify") {
			return ErrTokenInvalid
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		if strings.HasPrefix(path, "/token?grant_type=password") {
			return ErrInvalidCredentials
		}
		return ErrTokenInvalid
	case http.StatusNotFound:
		return ErrUserNotFound
	}
	return fmt.Errorf("identity: provider returned status %d on %s", resp.StatusCode, path)
}

func toAccount(u *gotrueUser) Account {
	return Account{
		ID:          u.ID,
		Email:       u.Email,
		ConfirmedAt: u.ConfirmedAt,
		CreatedAt:   u.CreatedAt,
	}
}

func toSession(s *gotrueSession) (*Session, error) {
	if s.AccessToken == "" || s.User == nil {
		return nil, fmt.Errorf("identity: provider returned incomplete session")
	}
	return &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresIn:    s.ExpiresIn,
		TokenType:    s.TokenType,
		Account:      toAccount(s.User),
	}, nil
}

var _ Provider = (*GoTrueClient)(nil)
