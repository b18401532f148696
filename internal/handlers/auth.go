package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pingme/pingme-server/internal/model"
)

const userContextKey = "user"

type AuthService interface {
	Register(params *model.CreateUserParams) (*model.User, error)
	Login(handle, password string) (*model.User, string, error)
	Validate(token string) (*model.User, error)
}

type ProfileStore interface {
	UpdateProfile(id model.UserID, params *model.UpdateProfileParams) error
	GetUser(id model.UserID) (*model.User, error)
}

// RequireAuth resolves the bearer token to a user and stashes it on
// the request context. REST callers get a plain 401; the websocket
// path does not use this middleware, it fails closed in the session.
func RequireAuth(svc AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := svc.Validate(bearerToken(c))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized)
			}
			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

func currentUser(c echo.Context) *model.User {
	return c.Get(userContextKey).(*model.User)
}

func Register(svc AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.CreateUserParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		if params.Handle == "" || params.Password == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
		}

		user, err := svc.Register(params)
		if err != nil {
			if errors.Is(err, model.ErrorHandleTaken) {
				return echo.NewHTTPError(http.StatusBadRequest, model.ErrorHandleTaken.Error())
			}
			return err
		}
		return c.JSON(http.StatusCreated, user.Public())
	}
}

func Login(svc AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.CreateUserParams{}
		if err := c.Bind(params); err != nil {
			return err
		}

		_, token, err := svc.Login(params.Handle, params.Password)
		if err != nil {
			if errors.Is(err, model.ErrorInvalidUsernameOrPassword) {
				return echo.NewHTTPError(http.StatusBadRequest, "Invalid credentials")
			}
			return err
		}
		return c.JSON(http.StatusOK, map[string]string{"access": token})
	}
}

func Me() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, currentUser(c).Public())
	}
}

func UpdateProfile(store ProfileStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.UpdateProfileParams{}
		if err := c.Bind(params); err != nil {
			return err
		}

		if err := store.UpdateProfile(currentUser(c).ID, params); err != nil {
			if errors.Is(err, model.ErrorHandleTaken) {
				return echo.NewHTTPError(http.StatusBadRequest, model.ErrorHandleTaken.Error())
			}
			return err
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "Profile updated successfully"})
	}
}
