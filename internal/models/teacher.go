package models

import "time"

// Teacher is an instructor account scoped to a single branch.
type Teacher struct {
	Username     string    `db:"username" json:"username"`
	Salt         string    `db:"salt" json:"-"`
	PasswordHash string    `db:"pw_hash" json:"-"`
	Name         string    `db:"name" json:"name"`
	Branch       string    `db:"branch" json:"branch"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TeacherProfile is the credential-free view of a teacher.
type TeacherProfile struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Branch   string `json:"branch"`
}

// Profile strips credential material.
func (t *Teacher) Profile() *TeacherProfile {
	if t == nil {
		return nil
	}
	return &TeacherProfile{Username: t.Username, Name: t.Name, Branch: t.Branch}
}
