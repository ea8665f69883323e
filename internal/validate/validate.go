// Package validate implements the per-route input schemas checked before a
// request reaches the auth gate, the cache or the upstream.
package validate

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
)

// Violation describes one field that failed its schema.
type Violation struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
}

// String renders the violation as a client-facing message.
func (v Violation) String() string {
	return fmt.Sprintf("%q %s", v.Field, v.Expected)
}

// Rule constrains a single field. A missing optional field passes.
type Rule struct {
	Field    string
	Required bool
	Valid    func(string) bool
	Expected string // shape description used in the violation
}

// Schema is a named set of field rules.
type Schema struct {
	Name  string
	Rules []Rule
}

// Lookup returns the raw value of a field and whether it was supplied.
type Lookup func(field string) (string, bool)

// Check applies every rule of s and returns the violations in rule order.
// A nil result means the input is valid.
func (s Schema) Check(get Lookup) []Violation {
	var out []Violation
	for _, r := range s.Rules {
		v, ok := get(r.Field)
		if !ok || v == "" {
			if r.Required {
				out = append(out, Violation{Field: r.Field, Expected: "is required"})
			}
			continue
		}
		if r.Valid != nil && !r.Valid(v) {
			out = append(out, Violation{Field: r.Field, Expected: r.Expected})
		}
	}
	return out
}

// Map adapts a plain map to a Lookup.
func Map(m map[string]string) Lookup {
	return func(field string) (string, bool) {
		v, ok := m[field]
		return v, ok
	}
}

// maxIDLen bounds path identifiers.
const maxIDLen = 64

// IsIdentifier reports whether s is a well-formed upstream identifier:
// 1..64 characters of [A-Za-z0-9_-].
func IsIdentifier(s string) bool {
	if len(s) == 0 || len(s) > maxIDLen {
		return false
	}
	for i := range len(s) {
		c := s[i]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

// IsEmail reports whether s is a bare email address (no display name).
func IsEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s, "@")
}

// intBetween returns a validator accepting base-10 integers in [lo, hi].
func intBetween(lo, hi int) func(string) bool {
	return func(s string) bool {
		n, err := strconv.Atoi(s)
		return err == nil && n >= lo && n <= hi
	}
}

// Pagination bounds.
const (
	MaxPage     = 10_000
	MaxPageSize = 100
)

// Route schemas.
var (
	Login = Schema{
		Name: "login",
		Rules: []Rule{
			{Field: "email", Required: true, Valid: IsEmail, Expected: "must be a valid email"},
			{Field: "password", Required: true},
		},
	}

	CommunityID = Schema{
		Name: "communityId",
		Rules: []Rule{
			{Field: "communityId", Required: true, Valid: IsIdentifier, Expected: "must be a valid identifier"},
		},
	}

	PostID = Schema{
		Name: "postId",
		Rules: []Rule{
			{Field: "postId", Required: true, Valid: IsIdentifier, Expected: "must be a valid identifier"},
		},
	}

	Pagination = Schema{
		Name: "pagination",
		Rules: []Rule{
			{Field: "page", Valid: intBetween(1, MaxPage), Expected: fmt.Sprintf("must be an integer between 1 and %d", MaxPage)},
			{Field: "size", Valid: intBetween(1, MaxPageSize), Expected: fmt.Sprintf("must be an integer between 1 and %d", MaxPageSize)},
		},
	}
)
