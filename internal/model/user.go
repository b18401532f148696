package model

import "time"

type UserID string

type CreateUserParams struct {
	Handle   string `json:"username"`
	Password string `json:"password"`
}

type UpdateProfileParams struct {
	Handle *string `json:"username"`
	Bio    *string `json:"bio"`
	Avatar *string `json:"avatar"`
}

type User struct {
	ID        UserID     `db:"ID"`
	CreatedAt time.Time  `db:"CreatedAt"`
	UpdatedAt *time.Time `db:"UpdatedAt"`
	Handle    string     `db:"Handle"`
	Password  string     `db:"Password"`
	Bio       string     `db:"Bio"`
	Avatar    string     `db:"Avatar"`
	IsOnline  bool       `db:"IsOnline"`
	LastSeen  *time.Time `db:"LastSeen"`
}

// PublicUser is the projection of a user that is safe to put on the
// wire, e.g. as the sender of a message.
type PublicUser struct {
	ID     UserID `json:"id"`
	Handle string `json:"username"`
	Avatar string `json:"avatar"`
	Bio    string `json:"bio"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:     u.ID,
		Handle: u.Handle,
		Avatar: u.Avatar,
		Bio:    u.Bio,
	}
}
