package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"userManager/models"
)

const jsonIndent = "    "

// JSONUserRepository keeps users as a JSON array in a single file.
// It holds no state besides the filesystem and the file path.
type JSONUserRepository struct {
	fs   afero.Fs
	path string
}

// NewJSONUserRepository returns a repository backed by the file at path on fsys.
// A nil fsys means the OS filesystem.
func NewJSONUserRepository(fsys afero.Fs, path string) *JSONUserRepository {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &JSONUserRepository{fs: fsys, path: path}
}

// Load reads every user from the backing file in stored order.
// A missing file is an empty store, not an error.
func (r *JSONUserRepository) Load(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.User{}, nil
		}
		return nil, fmt.Errorf("read user store: %w", err)
	}
	users, err := decodeUsers(data)
	if err != nil {
		return nil, &CorruptStoreError{Path: r.path, Err: err}
	}
	return users, nil
}

// decodeUsers walks the document token by token. Keys must match exactly
// (encoding/json would fold case and keep the last duplicate), every value
// must be a string, and nothing may follow the closing bracket.
func decodeUsers(data []byte) ([]models.User, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '['); err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	out := []models.User{}
	for i := 0; dec.More(); i++ {
		u, err := decodeUser(dec)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, u)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	if tok, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, fmt.Errorf("trailing data: %w", err)
		}
		return nil, fmt.Errorf("trailing data: unexpected %v", tok)
	}
	return out, nil
}

func decodeUser(dec *json.Decoder) (models.User, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return models.User{}, err
	}
	fields := map[string]string{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return models.User{}, err
		}
		key, _ := tok.(string)
		switch key {
		case "username", "email", "role":
		default:
			return models.User{}, fmt.Errorf("unexpected key %q", key)
		}
		if _, dup := fields[key]; dup {
			return models.User{}, fmt.Errorf("duplicate key %q", key)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return models.User{}, err
		}
		if len(raw) == 0 || raw[0] != '"' {
			return models.User{}, fmt.Errorf("key %q: value is not a string", key)
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return models.User{}, fmt.Errorf("key %q: %w", key, err)
		}
		fields[key] = v
	}
	if err := expectDelim(dec, '}'); err != nil {
		return models.User{}, err
	}
	if len(fields) != 3 {
		return models.User{}, errors.New("missing username, email or role")
	}
	return models.NewUser(fields["username"], fields["email"], fields["role"]), nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("expected %v, got end of document", want)
		}
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %v, got %v", want, tok)
	}
	return nil
}

// Add appends u and rewrites the file. An invalid email fails before any write.
// Add does not check username uniqueness; see Exists.
func (r *JSONUserRepository) Add(ctx context.Context, u models.User) error {
	users, err := r.Load(ctx)
	if err != nil {
		return err
	}
	if !ValidateEmail(u.Email) {
		return &ValidationError{Field: "email", Value: u.Email}
	}
	return r.save(append(users, u))
}

// Remove drops every user whose username equals username exactly.
// When none match the file is left untouched and a *NotFoundError is returned.
func (r *JSONUserRepository) Remove(ctx context.Context, username string) error {
	users, err := r.Load(ctx)
	if err != nil {
		return err
	}
	kept := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.Username != username {
			kept = append(kept, u)
		}
	}
	if len(kept) == len(users) {
		return &NotFoundError{Username: username}
	}
	return r.save(kept)
}

// Exists reports whether any stored user has the given username.
func (r *JSONUserRepository) Exists(ctx context.Context, username string) (bool, error) {
	users, err := r.Load(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

// List returns all users. An empty slice is a valid result.
func (r *JSONUserRepository) List(ctx context.Context) ([]models.User, error) {
	return r.Load(ctx)
}

// save replaces the backing file through a temp file and rename, so readers
// never observe a partially written document.
func (r *JSONUserRepository) save(users []models.User) error {
	if users == nil {
		users = []models.User{}
	}
	data, err := json.MarshalIndent(users, "", jsonIndent)
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	data = append(data, '\n')

	tmp, err := afero.TempFile(r.fs, filepath.Dir(r.path), "."+filepath.Base(r.path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = r.fs.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := r.fs.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := r.fs.Rename(tmpName, r.path); err != nil {
		cleanup()
		return fmt.Errorf("replace user store: %w", err)
	}
	return nil
}
