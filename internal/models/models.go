package models

import "time"

type User struct {
	UserID       string    `json:"user_id" bson:"_id"`
	Fullname     string    `json:"fullname" bson:"fullname"`
	Email        string    `json:"email" bson:"email"`
	Fonction     string    `json:"fonction" bson:"fonction"`
	PasswordHash string    `json:"-" bson:"password"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// PublicUser is the subset of User returned to clients after login.
type PublicUser struct {
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Fonction string `json:"fonction"`
}

func (u User) Public() PublicUser {
	return PublicUser{Fullname: u.Fullname, Email: u.Email, Fonction: u.Fonction}
}

type IngestResult struct {
	Filename    string        `json:"filename"`
	Reprocessed bool          `json:"reprocessed"`
	SHA256      string        `json:"sha256,omitempty"`
	Duration    time.Duration `json:"duration"`
}
