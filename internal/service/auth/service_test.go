package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"

	"github.com/pingme/pingme-server/internal/boot"
	"github.com/pingme/pingme-server/internal/chatstore"
	"github.com/pingme/pingme-server/internal/model"
)

func newTestService(t *testing.T) (*service, *chatstore.Store) {
	t.Helper()

	config := &boot.Config{
		DataDirectory: t.TempDir(),
		JWTSecret:     "test-secret",
		TokenTTL:      time.Hour,
	}
	store, err := chatstore.New(config)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return New(config, store), store
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestRegisterAndLogin(t *testing.T) {
	assert := assert.New(t)
	svc, _ := newTestService(t)

	user, err := svc.Register(&model.CreateUserParams{Handle: "alice", Password: "password"})
	assert.Nil(err)
	assert.NotEqual("password", user.Password)

	t.Run("Login", func(t *testing.T) {
		loggedIn, token, err := svc.Login("alice", "password")
		assert.Nil(err)
		assert.Equal(user.ID, loggedIn.ID)
		assert.NotEmpty(token)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, _, err := svc.Login("alice", "nope")
		assert.ErrorIs(err, model.ErrorInvalidUsernameOrPassword)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		_, _, err := svc.Login("nobody", "password")
		assert.ErrorIs(err, model.ErrorInvalidUsernameOrPassword)
	})
}

func TestValidate(t *testing.T) {
	assert := assert.New(t)
	svc, _ := newTestService(t)

	user, err := svc.Register(&model.CreateUserParams{Handle: "alice", Password: "password"})
	assert.Nil(err)

	t.Run("Valid", func(t *testing.T) {
		token, err := svc.Issue(user)
		assert.Nil(err)

		resolved, err := svc.Validate(token)
		assert.Nil(err)
		assert.Equal(user.ID, resolved.ID)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := svc.Validate("")
		authErr := &Error{}
		assert.ErrorAs(err, &authErr)
		assert.Equal(CodeMissingToken, authErr.Code)
	})

	t.Run("Expired", func(t *testing.T) {
		token := signToken(t, "test-secret", jwt.MapClaims{
			"user_id": string(user.ID),
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})

		_, err := svc.Validate(token)
		authErr := &Error{}
		assert.ErrorAs(err, &authErr)
		assert.Equal(CodeExpired, authErr.Code)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := svc.Validate("not-a-token")
		authErr := &Error{}
		assert.ErrorAs(err, &authErr)
		assert.Equal(CodeMalformed, authErr.Code)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token := signToken(t, "other-secret", jwt.MapClaims{
			"user_id": string(user.ID),
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		_, err := svc.Validate(token)
		authErr := &Error{}
		assert.ErrorAs(err, &authErr)
		assert.Equal(CodeMalformed, authErr.Code)
	})

	t.Run("UnknownSubject", func(t *testing.T) {
		token := signToken(t, "test-secret", jwt.MapClaims{
			"user_id": "ghost",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		_, err := svc.Validate(token)
		authErr := &Error{}
		assert.ErrorAs(err, &authErr)
		assert.Equal(CodeUnknownSubject, authErr.Code)
	})

	t.Run("MissingSubject", func(t *testing.T) {
		token := signToken(t, "test-secret", jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := svc.Validate(token)
		authErr := &Error{}
		assert.ErrorAs(err, &authErr)
		assert.Equal(CodeMalformed, authErr.Code)
	})
}
