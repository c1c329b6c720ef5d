package transfer

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownRecipient is returned when a recipient type has no directory entry
	ErrUnknownRecipient = errors.New("transfer: unknown recipient type")
	// ErrRecipientNotConfigured is returned when a known recipient type is missing from the directory
	ErrRecipientNotConfigured = errors.New("transfer: recipient not configured")
	// ErrInvalidRecipientDescriptor is returned when a descriptor fails validation
	ErrInvalidRecipientDescriptor = errors.New("transfer: invalid recipient descriptor")
)

// RecipientType identifies one of the fixed internal payees of a payment split
type RecipientType string

const (
	// RecipientDirectorGeneral is the director-general beneficiary account
	RecipientDirectorGeneral RecipientType = "DIRECTOR_GENERAL"
	// RecipientTechServices is the technical services beneficiary account
	RecipientTechServices RecipientType = "TECH_SERVICES"
)

// AllRecipientTypes returns every recipient type in processing order
func AllRecipientTypes() []RecipientType {
	return []RecipientType{RecipientDirectorGeneral, RecipientTechServices}
}

// IsValid returns true if the recipient type is known
func (t RecipientType) IsValid() bool {
	switch t {
	case RecipientDirectorGeneral, RecipientTechServices:
		return true
	default:
		return false
	}
}

// String returns the string representation of RecipientType
func (t RecipientType) String() string {
	return string(t)
}

// RecipientDescriptor holds the bank account details of a recipient
type RecipientDescriptor struct {
	AccountName   string `json:"account_name" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	BankCode      string `json:"bank_code" validate:"required,numeric"`
	Currency      string `json:"currency" validate:"required,len=3,uppercase"`
}

var descriptorValidator = validator.New()

// Validate checks the descriptor fields
func (d RecipientDescriptor) Validate() error {
	if err := descriptorValidator.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecipientDescriptor, err)
	}
	return nil
}

// RecipientDirectory is an immutable lookup table of recipient descriptors.
// It is built once at startup and injected into the services that need it.
type RecipientDirectory struct {
	entries map[RecipientType]RecipientDescriptor
}

// NewRecipientDirectory builds a directory from the given entries.
// Every known recipient type must be present and every descriptor must be valid.
func NewRecipientDirectory(entries map[RecipientType]RecipientDescriptor) (RecipientDirectory, error) {
	copied := make(map[RecipientType]RecipientDescriptor, len(entries))
	for t, d := range entries {
		if !t.IsValid() {
			return RecipientDirectory{}, fmt.Errorf("%w: %q", ErrUnknownRecipient, t)
		}
		if err := d.Validate(); err != nil {
			return RecipientDirectory{}, fmt.Errorf("recipient %s: %w", t, err)
		}
		copied[t] = d
	}
	for _, t := range AllRecipientTypes() {
		if _, ok := copied[t]; !ok {
			return RecipientDirectory{}, fmt.Errorf("%w: %s", ErrRecipientNotConfigured, t)
		}
	}
	return RecipientDirectory{entries: copied}, nil
}

// MustRecipientDirectory is like NewRecipientDirectory but panics on error.
// Intended for tests and static wiring.
func MustRecipientDirectory(entries map[RecipientType]RecipientDescriptor) RecipientDirectory {
	dir, err := NewRecipientDirectory(entries)
	if err != nil {
		panic(err)
	}
	return dir
}

// Descriptor returns the descriptor for the given recipient type
func (d RecipientDirectory) Descriptor(t RecipientType) (RecipientDescriptor, error) {
	desc, ok := d.entries[t]
	if !ok {
		return RecipientDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownRecipient, t)
	}
	return desc, nil
}

// Types returns the configured recipient types in processing order
func (d RecipientDirectory) Types() []RecipientType {
	types := make([]RecipientType, 0, len(d.entries))
	for _, t := range AllRecipientTypes() {
		if _, ok := d.entries[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// IsEmpty returns true if the directory was never initialized
func (d RecipientDirectory) IsEmpty() bool {
	return len(d.entries) == 0
}
