package auth

import (
	"context"
	"fmt"

	"clanity/entity"
)

type Database interface {
	ClientByToken(ctx context.Context, token string) (*entity.Client, error)
}

type Auth struct {
	db Database
}

func New(db Database) *Auth {
	return &Auth{db: db}
}

func (a *Auth) ClientByToken(ctx context.Context, token string) (*entity.Client, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database not connected")
	}
	return a.db.ClientByToken(ctx, token)
}
