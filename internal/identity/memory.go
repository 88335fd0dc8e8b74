package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MemoryProvider is a self-contained Provider used for local development and
// tests. Accounts live in process, passwords are bcrypt-hashed, tokens are
// random opaque strings.
type MemoryProvider struct {
	mu sync.Mutex

	accounts map[string]*memoryAccount // keyed by account ID
	byEmail  map[string]string         // email -> account ID
	sessions map[string]*memorySession // keyed by access token
	refresh  map[string]string         // refresh token -> account ID
	recovery map[string]string         // recovery token -> account ID

	accessTTL time.Duration
	now       func() time.Time
}

type memoryAccount struct {
	account      Account
	passwordHash []byte
}

type memorySession struct {
	accountID string
	expiresAt time.Time
}

// NewMemoryProvider constructs an empty provider issuing sessions with the
// given access-token lifetime.
func NewMemoryProvider(accessTTL time.Duration) *MemoryProvider {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &MemoryProvider{
		accounts:  make(map[string]*memoryAccount),
		byEmail:   make(map[string]string),
		sessions:  make(map[string]*memorySession),
		refresh:   make(map[string]string),
		recovery:  make(map[string]string),
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// SignUp creates an account after the same basic password policy GoTrue
// enforces by default.
func (p *MemoryProvider) SignUp(ctx context.Context, email, password string) (*Account, error) {
	if len(password) < 6 {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := normalizeEmail(email)
	if _, exists := p.byEmail[key]; exists {
		return nil, ErrEmailTaken
	}

	id := uuid.NewString()
	account := Account{
		ID:        id,
		Email:     key,
		CreatedAt: p.now().UTC(),
	}
	p.accounts[id] = &memoryAccount{account: account, passwordHash: hash}
	p.byEmail[key] = id
	return &account, nil
}

// SignInWithPassword verifies credentials and issues a fresh session.
func (p *MemoryProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	stored := p.accounts[id]
	if err := bcrypt.CompareHashAndPassword(stored.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return p.issueSessionLocked(stored.account), nil
}

// RefreshSession rotates both tokens; the old refresh token is consumed.
func (p *MemoryProvider) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.refresh[refreshToken]
	if !ok {
		return nil, ErrTokenInvalid
	}
	delete(p.refresh, refreshToken)
	stored, ok := p.accounts[id]
	if !ok {
		return nil, ErrTokenInvalid
	}
	return p.issueSessionLocked(stored.account), nil
}

// SendRecovery records a recovery token for the account, retrievable in tests
// via RecoveryToken.
func (p *MemoryProvider) SendRecovery(ctx context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byEmail[normalizeEmail(email)]
	if !ok {
		return ErrUserNotFound
	}
	p.recovery[randomToken()] = id
	return nil
}

// VerifyRecovery consumes a recovery token and returns a session for the
// account it belongs to.
func (p *MemoryProvider) VerifyRecovery(ctx context.Context, token string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.recovery[token]
	if !ok {
		return nil, ErrTokenInvalid
	}
	delete(p.recovery, token)
	stored, ok := p.accounts[id]
	if !ok {
		return nil, ErrTokenInvalid
	}
	return p.issueSessionLocked(stored.account), nil
}

// UpdatePassword replaces the password for the session owner.
func (p *MemoryProvider) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	if len(newPassword) < 6 {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.sessions[accessToken]
	if !ok || sess.expiresAt.Before(p.now()) {
		return ErrTokenInvalid
	}
	p.accounts[sess.accountID].passwordHash = hash
	return nil
}

// GetUser resolves an access token to its account.
func (p *MemoryProvider) GetUser(ctx context.Context, accessToken string) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.sessions[accessToken]
	if !ok || sess.expiresAt.Before(p.now()) {
		return nil, ErrTokenInvalid
	}
	account := p.accounts[sess.accountID].account
	return &account, nil
}

// SignOut revokes a session.
func (p *MemoryProvider) SignOut(ctx context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.sessions, accessToken)
	return nil
}

// DeleteAccount removes an account and every session attached to it.
func (p *MemoryProvider) DeleteAccount(ctx context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.accounts[accountID]
	if !ok {
		return ErrUserNotFound
	}
	delete(p.byEmail, normalizeEmail(stored.account.Email))
	delete(p.accounts, accountID)
	for token, sess := range p.sessions {
		if sess.accountID == accountID {
			delete(p.sessions, token)
		}
	}
	for token, id := range p.refresh {
		if id == accountID {
			delete(p.refresh, token)
		}
	}
	return nil
}

// RecoveryToken returns the latest pending recovery token for an email. Test
// hook for driving the reset flow without a mailbox.
func (p *MemoryProvider) RecoveryToken(email string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byEmail[normalizeEmail(email)]
	if !ok {
		return ""
	}
	for token, accountID := range p.recovery {
		if accountID == id {
			return token
		}
	}
	return ""
}

// HasSession reports whether an access token is still valid. Test hook.
func (p *MemoryProvider) HasSession(accessToken string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.sessions[accessToken]
	return ok && !sess.expiresAt.Before(p.now())
}

func (p *MemoryProvider) issueSessionLocked(account Account) *Session {
	access := randomToken()
	refreshTok := randomToken()
	p.sessions[access] = &memorySession{
		accountID: account.ID,
		expiresAt: p.now().Add(p.accessTTL),
	}
	p.refresh[refreshTok] = account.ID
	return &Session{
		AccessToken:  access,
		RefreshToken: refreshTok,
		ExpiresIn:    int(p.accessTTL.Seconds()),
		TokenType:    "bearer",
		Account:      account,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

var _ Provider = (*MemoryProvider)(nil)
