package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// UserSession represents the authenticated identity held client side.
type UserSession struct {
	ID          string    // backend user id
	Email       string    // sign-in email
	DisplayName string    // first and last name as shown in the header
	BearerToken string    // empty until the backend issues one
	Role        Role      // optional, RoleAdmin unlocks the dashboard
	LastUpdated time.Time // when this client last wrote the identity
	SessionID   string    // opaque per-login id generated client side
}

// IsAdmin reports whether the session carries an elevated role.
func (s *UserSession) IsAdmin() bool {
	return s != nil && s.Role.IsElevated()
}

// Record returns the trimmed identity persisted to session and durable storage.
// The bearer token is deliberately left out.
func (s *UserSession) Record() IdentityRecord {
	return IdentityRecord{
		ID:          s.ID,
		Email:       s.Email,
		Name:        s.DisplayName,
		LastUpdated: s.LastUpdated.UnixMilli(),
		SessionID:   s.SessionID,
	}
}

// IdentityRecord is the JSON blob stored under the identity key in both storage tiers.
// LastUpdated is epoch milliseconds.
type IdentityRecord struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	LastUpdated int64  `json:"lastUpdated"`
	SessionID   string `json:"sessionId"`
}

// Session rebuilds a UserSession from the record and a cookie held token.
func (r IdentityRecord) Session(token string) *UserSession {
	return &UserSession{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.Name,
		BearerToken: token,
		LastUpdated: time.UnixMilli(r.LastUpdated),
		SessionID:   r.SessionID,
	}
}

// FlexibleID accepts an id encoded either as a JSON string or a JSON number.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return NewTransformationError("id is neither a string nor a number: " + string(b))
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string {
	return string(id)
}

// Account is the user object returned by the auth endpoints.
type Account struct {
	ID        FlexibleID `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstname"`
	LastName  string     `json:"lastname"`
	Phone     string     `json:"phone"`
	UserType  string     `json:"usertype"`
}

// UnmarshalJSON accepts both firstname and firstName spellings.
func (a *Account) UnmarshalJSON(b []byte) error {
	type plain Account
	var aux struct {
		plain
		FirstNameCamel string      `json:"firstName"`
		LastNameCamel  string      `json:"lastName"`
		UserID         *FlexibleID `json:"_id"`
		Role           string      `json:"role"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*a = Account(aux.plain)
	if a.FirstName == "" {
		a.FirstName = aux.FirstNameCamel
	}
	if a.LastName == "" {
		a.LastName = aux.LastNameCamel
	}
	if a.ID == "" && aux.UserID != nil {
		a.ID = *aux.UserID
	}
	if a.UserType == "" {
		a.UserType = aux.Role
	}
	return nil
}

// DisplayName joins first and last name, falling back to the email local part.
func (a Account) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
	if name != "" {
		return name
	}
	if at := strings.IndexByte(a.Email, '@'); at > 0 {
		return a.Email[:at]
	}
	return a.Email
}

// Role maps the backend usertype onto a Role.
func (a Account) Role() Role {
	return ParseRole(a.UserType)
}

// Session converts the account into a UserSession carrying token.
func (a Account) Session(token string) *UserSession {
	return &UserSession{
		ID:          a.ID.String(),
		Email:       a.Email,
		DisplayName: a.DisplayName(),
		BearerToken: token,
		Role:        a.Role(),
	}
}

// Phone10 returns the last ten digits of the phone number, or the digits as-is when shorter.
func (a Account) Phone10() string {
	digits := DigitsOnly(a.Phone)
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}

// DigitsOnly strips every non digit character from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseFloatLoose pulls a number out of strings such as "₹12,500" or "12500.00".
func parseFloatLoose(s string) (float64, bool) {
	var b strings.Builder
	seenDot := false
scan:
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !seenDot && b.Len() > 0:
			seenDot = true
			b.WriteRune(r)
		case r == ',':
		default:
			if b.Len() > 0 {
				break scan
			}
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(b.String(), "."), 64)
	return f, err == nil
}
