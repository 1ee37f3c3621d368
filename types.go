package flagsync

import (
	"github.com/OrlandoBitencourt/flagsync/internal/domain"
	"github.com/OrlandoBitencourt/flagsync/internal/evaluator"
)

// User holds the attributes a flag is evaluated against.
// Custom attributes are referenced by rules through their exact name.
type User = domain.User

// UserOption sets an optional user attribute
type UserOption = domain.UserOption

// ProjectConfig is an immutable snapshot of the downloaded config.
// A nil *ProjectConfig means no config has been fetched yet.
type ProjectConfig = domain.ProjectConfig

// EvaluationDetail explains how a value was chosen.
type EvaluationDetail = evaluator.Detail

// Evaluation reasons reported in EvaluationDetail.Reason
const (
	ReasonMissingConfig = evaluator.ReasonMissingConfig
	ReasonUnknownKey    = evaluator.ReasonUnknownKey
	ReasonNoUser        = evaluator.ReasonNoUser
	ReasonTargetingRule = evaluator.ReasonTargetingRule
	ReasonPercentage    = evaluator.ReasonPercentage
	ReasonDefault       = evaluator.ReasonDefault
)

// NewUser creates a user with the given identifier.
//
// Example:
//
//	user := flagsync.NewUser("user-123",
//	    flagsync.WithEmail("a@example.com"),
//	    flagsync.WithCustom("plan", "pro"),
//	)
func NewUser(identifier string, opts ...UserOption) *User {
	return domain.NewUser(identifier, opts...)
}

// WithEmail sets the Email attribute
func WithEmail(email string) UserOption {
	return domain.WithEmail(email)
}

// WithCountry sets the Country attribute
func WithCountry(country string) UserOption {
	return domain.WithCountry(country)
}

// WithCustom sets a custom attribute
func WithCustom(name, value string) UserOption {
	return domain.WithCustom(name, value)
}
