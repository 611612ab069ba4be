package model

import "time"

type Apartment struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApartmentMember links a user to an apartment and carries that user's
// chore point balance for the apartment.
type ApartmentMember struct {
	ID          int64     `json:"id"`
	ApartmentID int64     `json:"apartment_id"`
	UserID      int64     `json:"user_id"`
	Role        string    `json:"role"`
	Points      int       `json:"points"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PointBalance struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	Balance  int    `json:"balance"`
}
