package models

import "time"

// Student represents a learner registered in a branch. Credential fields never
// leave the service layer; use Profile for anything shown to a user.
type Student struct {
	PRN          string    `db:"prn" json:"prn"`
	ClassRoll    string    `db:"class_roll" json:"class_roll"`
	Username     string    `db:"username" json:"username"`
	Salt         string    `db:"salt" json:"-"`
	PasswordHash string    `db:"pw_hash" json:"-"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Branch       string    `db:"branch" json:"branch"`
	Division     string    `db:"division" json:"division"`
	Email        string    `db:"email" json:"email"`
	Extra        Extra     `db:"extra" json:"extra"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// StudentProfile is the credential-free view of a student.
type StudentProfile struct {
	PRN       string `json:"prn"`
	ClassRoll string `json:"class_roll"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Branch    string `json:"branch"`
	Division  string `json:"division"`
	Email     string `json:"email"`
	Extra     Extra  `json:"extra"`
}

// Profile strips credential material.
func (s *Student) Profile() *StudentProfile {
	if s == nil {
		return nil
	}
	return &StudentProfile{
		PRN:       s.PRN,
		ClassRoll: s.ClassRoll,
		Username:  s.Username,
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Branch:    s.Branch,
		Division:  s.Division,
		Email:     s.Email,
		Extra:     s.Extra.Clone(),
	}
}

// FullName joins first and last name.
func (p *StudentProfile) FullName() string {
	return p.FirstName + " " + p.LastName
}
