package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string used to identify one agent request.
func NewID() string {
	return ulid.Make().String()
}

// IDTime returns the creation time encoded in id.
func IDTime(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
