package entity

import "time"

// Client is an API consumer (the quiz/UI layer, internal tooling) holding
// a bearer token. Clients are provisioned out-of-band.
type Client struct {
	Name      string    `json:"name" bson:"name" validate:"required"`
	Token     string    `json:"token" bson:"token" validate:"required,min=1"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
