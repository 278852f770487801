// Package authpw provides email/password authentication with rate limiting,
// audit logging and process-wide session state.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"productos/api/internal/auth"
	"productos/api/internal/security"
	"productos/api/internal/store"
	"productos/api/internal/util"
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
}

// SessionStore persists refresh sessions (Redis or Postgres).
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// Mailer sends the signup verification email. Nil disables verification.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, token string) error
}

// Session is the established authentication state for one user.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

var (
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrEmailNotVerified   = errors.New("email not verified")
)

// RateLimitedError reports the remaining lockout after too many failed
// attempts.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, try again in %d seconds", int(e.Wait.Seconds()+0.999))
}

// Service is the auth session store. Session state is process-wide,
// established by SignIn/Resume and observed through Subscribe.
type Service struct {
	users       UserStore
	sessions    SessionStore
	limiter     *security.Limiter
	audit       *security.AuditLogger
	mailer      Mailer
	tokenSecret []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration

	mu      sync.Mutex
	current *Session
	subs    map[int]func(*Session)
	nextSub int
}

func NewService(users UserStore, sessions SessionStore, limiter *security.Limiter, audit *security.AuditLogger, tokenSecret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		users:       users,
		sessions:    sessions,
		limiter:     limiter,
		audit:       audit,
		tokenSecret: []byte(tokenSecret),
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		subs:        make(map[int]func(*Session)),
	}
}

// SetMailer enables the signup verification email.
func (s *Service) SetMailer(mailer Mailer) {
	s.mailer = mailer
}

// SignIn authenticates a user. Validation failures return before any
// storage access and are never audited; credential failures bump the
// rate-limit counter and always surface the same generic error so account
// existence does not leak.
func (s *Service) SignIn(ctx context.Context, email, password, clientID string) (Session, error) {
	if !security.IsValidEmail(email) {
		return Session{}, ErrInvalidEmail
	}

	limit, err := s.limiter.Check(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if !limit.Allowed {
		s.audit.Log(ctx, security.EventSuspicious, "rate limit exceeded for "+email, clientID)
		return Session{}, &RateLimitedError{Wait: limit.WaitTime}
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		s.recordFailure(ctx, email, clientID)
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordFailure(ctx, email, clientID)
		return Session{}, ErrInvalidCredentials
	}
	if s.mailer != nil && !user.IsEmailVerified {
		return Session{}, ErrEmailNotVerified
	}

	if err := s.limiter.Clear(ctx, email); err != nil {
		return Session{}, err
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, err
	}
	s.audit.Log(ctx, security.EventLoginSuccess, "user logged in: "+email, clientID)
	s.setCurrent(&session)
	return session, nil
}

func (s *Service) recordFailure(ctx context.Context, email, clientID string) {
	if err := s.limiter.RecordFailure(ctx, email); err != nil {
		s.audit.Log(ctx, security.EventSuspicious, "failed to record login attempt: "+err.Error(), clientID)
		return
	}
	s.audit.Log(ctx, security.EventLoginFail, "login failed for: "+email, clientID)
}

// SignUp creates a new account. The password must pass every strength rule;
// the first failing rule's message is returned.
func (s *Service) SignUp(ctx context.Context, email, password, clientID string) error {
	if !security.IsValidEmail(email) {
		return ErrInvalidEmail
	}
	if err := security.CheckPasswordStrength(password); err != nil {
		return err
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Email:        email,
		PasswordHash: string(hash),
	}
	if s.mailer == nil {
		// No way to deliver a verification email; accounts are usable at
		// once.
		user.IsEmailVerified = true
	} else {
		token, err := generateToken()
		if err != nil {
			return fmt.Errorf("generate verification token: %w", err)
		}
		user.VerificationToken = token
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	if s.mailer != nil {
		expiresAt := time.Now().Add(24 * time.Hour)
		if err := s.users.UpdateUserVerificationToken(ctx, user.ID, user.VerificationToken, expiresAt); err != nil {
			return fmt.Errorf("set verification expiry: %w", err)
		}
		if err := s.mailer.SendVerificationEmail(ctx, email, user.VerificationToken); err != nil {
			return fmt.Errorf("send verification email: %w", err)
		}
	}

	s.audit.Log(ctx, security.EventSignup, "account created: "+email, clientID)
	return nil
}

// VerifyEmail confirms an address using the emailed token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("verification token required")
	}
	if err := s.users.VerifyUserEmail(ctx, token); err != nil {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

// SignOut clears the process-wide session and revokes the refresh session.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		return nil
	}
	if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(current.RefreshToken)); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.setCurrent(nil)
	return nil
}

// Revoke invalidates a specific refresh token. The process-wide session is
// cleared only when it was issued against the same token.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.mu.Lock()
	if s.current != nil && s.current.RefreshToken == refreshToken {
		s.mu.Unlock()
		s.setCurrent(nil)
		return nil
	}
	s.mu.Unlock()
	return nil
}

// Resume restores session state from a persisted refresh token, the
// startup current-session query.
func (s *Service) Resume(ctx context.Context, refreshToken string) (Session, error) {
	session, err := s.Refresh(ctx, refreshToken)
	if err != nil {
		return Session{}, err
	}
	s.setCurrent(&session)
	return session, nil
}

// Refresh exchanges a refresh token for a new session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	user, err := s.sessions.LookupRefreshSession(ctx, auth.HashToken(refreshToken))
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if user.Email == "" {
		// The Redis session store persists only the user id.
		user, err = s.users.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, ErrInvalidCredentials
		}
	}
	return s.issueSession(ctx, user)
}

// SessionFromToken validates an access token without touching storage.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken(s.tokenSecret, token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// AuditTrail returns the most recent security events, oldest first.
func (s *Service) AuditTrail(ctx context.Context, limit int) ([]security.Event, error) {
	return s.audit.Recent(ctx, limit)
}

// CurrentSession returns the process-wide session, nil when signed out.
func (s *Service) CurrentSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	copied := *s.current
	return &copied
}

// Subscribe registers a callback for session transitions (sign-in delivers
// the session, sign-out delivers nil). The returned function unsubscribes.
func (s *Service) Subscribe(fn func(*Session)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Service) setCurrent(session *Session) {
	s.mu.Lock()
	s.current = session
	subs := make([]func(*Session), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		var copied *Session
		if session != nil {
			c := *session
			copied = &c
		}
		fn(copied)
	}
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("")
	expiresAt := time.Now().Add(s.accessTTL)
	token, err := auth.IssueToken(s.tokenSecret, auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refreshToken, err := generateToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshExpiry := time.Now().Add(s.refreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// generateToken creates a secure random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
