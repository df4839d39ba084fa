package model

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MaxFieldLength bounds the descriptive fields, which end up in folder names.
const MaxFieldLength = 200

// Validate checks the fields a user provides when creating or editing an entity.
func (e Entity) Validate() error {
	company := strings.TrimSpace(e.Company)
	position := strings.TrimSpace(e.Position)
	return validation.Errors{
		"company":  validation.Validate(company, validation.Required, validation.RuneLength(1, MaxFieldLength)),
		"position": validation.Validate(position, validation.Required, validation.RuneLength(1, MaxFieldLength)),
		"status":   validation.Validate(e.Status, validation.Required, validation.In(StatusPending, StatusRejected, StatusInterview)),
	}.Filter()
}
