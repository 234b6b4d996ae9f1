package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2beens/gymweb/internal/backend"
)

type User = backend.User

// State is a point-in-time snapshot of the session.
type State struct {
	User            *User  `json:"user"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	IsLoading       bool   `json:"isLoading"`
	Error           string `json:"error,omitempty"`
}

func (s State) clone() State {
	s.User = cloneUser(s.User)
	return s
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func encodeUser(u *User) (string, error) {
	userBytes, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("marshal user: %w", err)
	}
	return string(userBytes), nil
}

func decodeUser(raw string) (*User, error) {
	var user *User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	if user == nil {
		return nil, errors.New("user record is null")
	}
	return user, nil
}
