package repository

import (
	"context"

	"userManager/models"
)

// UserRepositoryI defines operations on the persisted user collection.
//
// Every write is a full read-modify-write of the backing store. Uniqueness of
// usernames is a caller contract: call Exists before Add, since Add does not
// re-check it.
type UserRepositoryI interface {
	Load(ctx context.Context) ([]models.User, error)
	Add(ctx context.Context, u models.User) error
	Remove(ctx context.Context, username string) error
	Exists(ctx context.Context, username string) (bool, error)
	List(ctx context.Context) ([]models.User, error)
}

var (
	_ UserRepositoryI = (*JSONUserRepository)(nil)
	_ UserRepositoryI = (*SQLiteUserRepository)(nil)
)
