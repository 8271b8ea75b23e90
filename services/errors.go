package services

import (
	"errors"
	"fmt"
)

// ErrCredentialExists wird gemeldet, wenn ein Credential mit derselben
// kanonischen URI bereits gespeichert ist.
var ErrCredentialExists = errors.New("credential already exists")

// ValidationError benennt das Feld, das eine Eingabe-Validierung verletzt.
// Handler mappen den Fehler auf HTTP 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationErr(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
