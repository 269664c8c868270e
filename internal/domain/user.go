package domain

import "context"

// User is owned by the account/auth side of the platform; chat only reads
// it to denormalize sender details into payloads.
type User struct {
	ID             string `bson:"_id" json:"id"`
	Name           string `bson:"name" json:"name"`
	Email          string `bson:"email" json:"email,omitempty"`
	ProfileImage   string `bson:"profile_image,omitempty" json:"profile_image,omitempty"`
	GraduationYear int    `bson:"graduation_year,omitempty" json:"graduation_year,omitempty"`
}

// UserDirectory resolves user identities. Implementations are read-only.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUsers(ctx context.Context, ids []string) ([]*User, error)
}
