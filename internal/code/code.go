// Package code allocates human-readable reservation codes of the form
// EVT-XXXXX, where each X is drawn uniformly from [A-Z0-9].
package code

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"

	"github.com/Shivanand-hulikatti/event-reservations/internal/apperr"
)

const (
	Prefix             = "EVT-"
	Length             = 5
	Alphabet           = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultMaxAttempts = 100
)

var pattern = regexp.MustCompile(`^EVT-[A-Z0-9]{5}$`)

// Valid reports whether s has the reservation code format.
func Valid(s string) bool { return pattern.MatchString(s) }

// Lookup reports whether a code is already taken.
type Lookup interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, code string) (bool, error)

func (f LookupFunc) CodeExists(ctx context.Context, code string) (bool, error) { return f(ctx, code) }

// Allocator generates codes. It is safe for concurrent use.
type Allocator struct {
	maxAttempts int
	intn        func(n int) int
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithMaxAttempts bounds the number of candidates tried per Generate call or
// Session.
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithIntn replaces the random source. f must return a value in [0, n) and be
// safe for concurrent use.
func WithIntn(f func(n int) int) Option {
	return func(a *Allocator) { a.intn = f }
}

// New returns an Allocator with DefaultMaxAttempts and a math/rand/v2 source.
func New(opts ...Option) *Allocator {
	a := &Allocator{maxAttempts: DefaultMaxAttempts, intn: rand.IntN}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxAttempts returns the attempt budget of one Generate call or Session.
func (a *Allocator) MaxAttempts() int { return a.maxAttempts }

// Candidate returns one random code without checking for collisions.
func (a *Allocator) Candidate() string {
	buf := make([]byte, len(Prefix)+Length)
	copy(buf, Prefix)
	for i := len(Prefix); i < len(buf); i++ {
		buf[i] = Alphabet[a.intn(len(Alphabet))]
	}
	return string(buf)
}

// Generate returns a code that lookup reports as unused. After MaxAttempts
// collisions it fails with a CodeExhausted error.
//
// The lookup is advisory: the store's unique index is what makes the code
// unique, and callers retry on a duplicate-key failure at insert time. Such
// callers should draw from one Session so both kinds of collision share the
// same budget.
func (a *Allocator) Generate(ctx context.Context, lookup Lookup) (string, error) {
	return a.NewSession().Next(ctx, lookup)
}

// Session draws candidates against a single attempt budget. It is not safe
// for concurrent use.
type Session struct {
	a    *Allocator
	used int
}

// NewSession starts a fresh budget of MaxAttempts candidates.
func (a *Allocator) NewSession() *Session {
	return &Session{a: a}
}

// Used returns how many candidates the session has handed to lookup.
func (s *Session) Used() int { return s.used }

// Next returns the next candidate that lookup reports as unused. Every
// candidate drawn counts against the budget, including ones returned earlier
// that later collided at insert.
func (s *Session) Next(ctx context.Context, lookup Lookup) (string, error) {
	for s.used < s.a.maxAttempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c := s.a.Candidate()
		s.used++
		taken, err := lookup.CodeExists(ctx, c)
		if err != nil {
			return "", fmt.Errorf("check reservation code: %w", err)
		}
		if !taken {
			return c, nil
		}
	}
	return "", apperr.CodeExhausted(s.a.maxAttempts)
}
