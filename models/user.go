package models

// User represents one managed user record.
// It maps to one element of the JSON array in the backing file.
type User struct {
	Username string `db:"username" json:"username"`
	Email    string `db:"email" json:"email"`
	Role     string `db:"role" json:"role"`
}

// NewUser builds a User from raw field values. No validation happens here;
// callers validate through the repository before persisting.
func NewUser(username, email, role string) User {
	return User{Username: username, Email: email, Role: role}
}

// ToMap returns the user's fields keyed by their serialized names.
func (u User) ToMap() map[string]string {
	return map[string]string{
		"username": u.Username,
		"email":    u.Email,
		"role":     u.Role,
	}
}
