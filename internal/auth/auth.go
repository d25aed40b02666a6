// Package auth implements local viewer accounts for the HTTP API: argon2id
// password hashing and cookie-backed sessions stored in sqlite.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"
	"unicode/utf8"

	"playsync/internal/models"
	"playsync/internal/store"
)

const SessionDuration = 7 * 24 * time.Hour
const CookieName = "playsync_session"

var (
	// ErrInvalidCredentials is deliberately generic to prevent account
	// enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSetupComplete      = errors.New("setup already complete")
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateUsername(username string) error {
	length := utf8.RuneCountInString(username)
	if length < 3 {
		return fmt.Errorf("username must be at least 3 characters")
	}
	if length > 32 {
		return fmt.Errorf("username must be at most 32 characters")
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("username can only contain letters, numbers, underscores, and hyphens")
	}
	return nil
}

type Service struct {
	store *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// SetupRequired reports whether no account exists yet.
func (s *Service) SetupRequired() (bool, error) {
	n, err := s.store.CountUsers()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Setup creates the first account and logs it in. Once any account exists
// further setup attempts are rejected.
func (s *Service) Setup(username, email, password string) (*models.User, string, error) {
	if err := validateUsername(username); err != nil {
		return nil, "", err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, "", err
	}

	required, err := s.SetupRequired()
	if err != nil {
		return nil, "", err
	}
	if !required {
		return nil, "", ErrSetupComplete
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	user, err := s.store.CreateUser(username, email, hash)
	if err != nil {
		return nil, "", err
	}

	token, err := s.store.CreateSession(user.ID, time.Now().UTC().Add(SessionDuration))
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login verifies credentials and opens a session. Verification always runs
// against a hash, real or dummy, so response timing does not reveal whether
// the account exists.
func (s *Service) Login(username, password string) (*models.User, string, error) {
	if username == "" || password == "" {
		return nil, "", ErrInvalidCredentials
	}

	user, passwordHash, err := s.store.GetUserByName(username)
	found := err == nil && passwordHash != ""

	hashToVerify := passwordHash
	if !found {
		hashToVerify = DummyHash
	}
	valid, _ := VerifyPassword(password, hashToVerify)
	if !found || !valid {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.store.CreateSession(user.ID, time.Now().UTC().Add(SessionDuration))
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Logout invalidates the session token.
func (s *Service) Logout(token string) error {
	return s.store.DeleteSession(token)
}

// UserForToken resolves an unexpired session to its user.
func (s *Service) UserForToken(token string) (*models.User, error) {
	return s.store.GetSessionUser(token)
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

// SetSessionCookie attaches the session token to the response.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
}
