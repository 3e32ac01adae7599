// Package domain defines the core value types of the newsletter service.
//
// This file defines SubscriberEmail, an address that passed validation.
// Stored addresses are re-validated before every send, so a bad row is
// skipped instead of handed to the email provider.
package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSubscriberEmail is returned by ParseSubscriberEmail.
var ErrInvalidSubscriberEmail = errors.New("invalid subscriber email")

var emailValidate = validator.New()

// SubscriberEmail is an address that passed validation.
type SubscriberEmail string

// ParseSubscriberEmail validates s as an email address.
func ParseSubscriberEmail(s string) (SubscriberEmail, error) {
	if err := emailValidate.Var(s, "required,email"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubscriberEmail, s)
	}
	return SubscriberEmail(s), nil
}

func (e SubscriberEmail) String() string { return string(e) }
