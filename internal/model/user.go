package model

import "time"

// User is a registered account.  Any user may post trips as a carrier and
// book other users' trips as a sender.
//
// Fields:
//
//	ID           – UUID primary key.
//	Email        – unique, lower-cased.
//	PasswordHash – bcrypt hash.
//	DisplayName  – shown to the other party of a booking.
//	Contact      – phone or handle shared with the other party.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Contact      string
	CreatedAt    time.Time
}
