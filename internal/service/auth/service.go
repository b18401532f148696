package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/pingme/pingme-server/internal/boot"
	"github.com/pingme/pingme-server/internal/model"
)

// ErrorCode classifies a token validation failure. Callers close the
// connection the same way for every code; the distinction exists for
// logs and tests only.
type ErrorCode int

const (
	CodeMissingToken ErrorCode = iota
	CodeExpired
	CodeMalformed
	CodeUnknownSubject
)

type Error struct {
	Code ErrorCode
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeMissingToken:
		return "auth: missing token"
	case CodeExpired:
		return "auth: token expired"
	case CodeMalformed:
		return "auth: malformed token"
	case CodeUnknownSubject:
		return "auth: unknown subject"
	}
	return "auth: invalid token"
}

type UserStore interface {
	CreateUser(handle, hashedPassword string) (*model.User, error)
	GetUser(id model.UserID) (*model.User, error)
	GetUserByHandle(handle string) (*model.User, error)
}

type service struct {
	config *boot.Config
	store  UserStore
}

func New(config *boot.Config, store UserStore) *service {
	return &service{config, store}
}

func (s *service) Register(params *model.CreateUserParams) (*model.User, error) {
	passwordBytes, err := bcrypt.GenerateFromPassword([]byte(params.Password), 10)
	if err != nil {
		return nil, fmt.Errorf("generating encoded password: %w", err)
	}

	user, err := s.store.CreateUser(params.Handle, string(passwordBytes))
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

func (s *service) Login(handle, password string) (*model.User, string, error) {
	user, err := s.store.GetUserByHandle(handle)
	if err != nil {
		if errors.Is(err, model.ErrorUserNotFound) {
			return nil, "", model.ErrorInvalidUsernameOrPassword
		}
		return nil, "", fmt.Errorf("fetching user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, "", model.ErrorInvalidUsernameOrPassword
	}

	token, err := s.Issue(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Issue signs an access token for the user: HS256 with a user_id claim
// and an expiry.
func (s *service) Issue(user *model.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": string(user.ID),
		"exp":     time.Now().Add(s.config.TokenTTL).Unix(),
	})

	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies the token's signature and expiry and resolves the
// user_id claim against the store. Every failure path returns a typed
// *Error; it never panics on well-formed-but-invalid input.
func (s *service) Validate(tokenString string) (*model.User, error) {
	if tokenString == "" {
		return nil, &Error{Code: CodeMissingToken}
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, &Error{Code: CodeExpired}
		}
		return nil, &Error{Code: CodeMalformed}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, &Error{Code: CodeMalformed}
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, &Error{Code: CodeMalformed}
	}

	user, err := s.store.GetUser(model.UserID(userID))
	if err != nil {
		if errors.Is(err, model.ErrorUserNotFound) {
			return nil, &Error{Code: CodeUnknownSubject}
		}
		return nil, fmt.Errorf("resolving subject: %w", err)
	}

	return user, nil
}
