package domain

// Well-known attribute names resolved to the fixed User fields.
const (
	AttributeIdentifier = "Identifier"
	AttributeEmail      = "Email"
	AttributeCountry    = "Country"
)

// User describes the identity a flag is evaluated for.
type User struct {
	// Identifier is the stable bucketing key, e.g. user ID or session ID
	Identifier string

	// Email is optional, used by targeting rules
	Email string

	// Country is optional, used by targeting rules
	Country string

	// Custom holds any other attribute for targeting rules
	Custom map[string]string
}

// UserOption configures a User.
type UserOption func(*User)

// NewUser creates a user with the given identifier.
func NewUser(identifier string, opts ...UserOption) *User {
	u := &User{Identifier: identifier}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// WithEmail sets the email of the user.
func WithEmail(email string) UserOption {
	return func(u *User) {
		u.Email = email
	}
}

// WithCountry sets the country of the user.
func WithCountry(country string) UserOption {
	return func(u *User) {
		u.Country = country
	}
}

// WithCustom sets a custom attribute on the user.
func WithCustom(name, value string) UserOption {
	return func(u *User) {
		if u.Custom == nil {
			u.Custom = make(map[string]string)
		}
		u.Custom[name] = value
	}
}

// Attribute resolves a named attribute. Empty values count as absent.
func (u *User) Attribute(name string) (string, bool) {
	if u == nil {
		return "", false
	}

	var value string
	switch name {
	case AttributeIdentifier:
		value = u.Identifier
	case AttributeEmail:
		value = u.Email
	case AttributeCountry:
		value = u.Country
	default:
		value = u.Custom[name]
	}

	return value, value != ""
}
