// Package ident allocates and parses human-readable entity identifiers.
//
// Identifiers are unique and strictly increasing within a scope of
// (kind, calendar year, owner). Clients are numbered globally:
//
//	UB2024C0007
//
// Every other kind is numbered per owning client:
//
//	UB2024C0007-P2024-0012   project
//	UB2024C0007-Q2024-0003   quote
//	UB2024C0007-OR2024-0001  order
//	UB2024C0007-F2024-0040   file
//	UB2024C0007-J2024-0002   print job
package ident

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ubcore/store"
)

type Kind string

const (
	KindClient  Kind = "client"
	KindProject Kind = "project"
	KindQuote   Kind = "quote"
	KindOrder   Kind = "order"
	KindFile    Kind = "file"
	KindJob     Kind = "job"
)

// GlobalOwner is the owner of scopes that are not partitioned by account.
const GlobalOwner = "GLOBAL"

var (
	ErrInvalidScope = errors.New("invalid identifier scope")
	ErrMalformed    = errors.New("malformed identifier")
)

var kindCodes = map[Kind]string{
	KindProject: "P",
	KindQuote:   "Q",
	KindOrder:   "OR",
	KindFile:    "F",
	KindJob:     "J",
}

var codeKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindCodes))
	for k, c := range kindCodes {
		m[c] = k
	}
	return m
}()

// Kinds lists every allocatable kind.
func Kinds() []Kind {
	return []Kind{KindClient, KindProject, KindQuote, KindOrder, KindFile, KindJob}
}

func (k Kind) Valid() bool {
	if k == KindClient {
		return true
	}
	_, ok := kindCodes[k]
	return ok
}

// Owned reports whether identifiers of this kind are partitioned by owner.
func (k Kind) Owned() bool { return k != KindClient }

// Scope is the key a counter is kept under.
type Scope struct {
	Kind  Kind   `json:"kind"`
	Year  string `json:"year"`
	Owner string `json:"owner"`
}

// NewScope validates and normalises a scope. An empty owner or any casing of
// "global" selects GlobalOwner. The client kind only accepts GlobalOwner.
func NewScope(kind Kind, year, owner string) (Scope, error) {
	if !kind.Valid() {
		return Scope{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, kind)
	}
	if !validYear(year) {
		return Scope{}, fmt.Errorf("%w: year %q is not four digits", ErrInvalidScope, year)
	}
	if owner == "" || strings.EqualFold(owner, GlobalOwner) {
		return Scope{Kind: kind, Year: year, Owner: GlobalOwner}, nil
	}
	if !kind.Owned() {
		return Scope{}, fmt.Errorf("%w: %s identifiers are global, got owner %q", ErrInvalidScope, kind, owner)
	}
	if !validOwner(owner) {
		return Scope{}, fmt.Errorf("%w: owner %q has invalid characters", ErrInvalidScope, owner)
	}
	return Scope{Kind: kind, Year: year, Owner: owner}, nil
}

// YearOf formats t as a scope year.
func YearOf(t time.Time) string { return t.Format("2006") }

func (s Scope) key() store.CounterKey {
	return store.CounterKey{Kind: string(s.Kind), Year: s.Year, Owner: s.Owner}
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Kind, s.Year, s.Owner)
}

// Identifier is an allocated sequence number within a scope.
type Identifier struct {
	Scope
	Seq int64 `json:"seq"`
}

func (id Identifier) String() string {
	if id.Kind == KindClient {
		return fmt.Sprintf("UB%sC%04d", id.Year, id.Seq)
	}
	return fmt.Sprintf("%s-%s%s-%04d", id.Owner, kindCodes[id.Kind], id.Year, id.Seq)
}

// Parse recovers the scope and sequence from an identifier. Only the exact
// form String produces is accepted.
func Parse(s string) (Identifier, error) {
	id, err := parse(s)
	if err != nil {
		return Identifier{}, err
	}
	if id.String() != s {
		return Identifier{}, fmt.Errorf("%w: %q is not in canonical form", ErrMalformed, s)
	}
	return id, nil
}

func parse(s string) (Identifier, error) {
	if !strings.Contains(s, "-") {
		return parseClient(s)
	}
	i := strings.LastIndexByte(s, '-')
	seqPart, rest := s[i+1:], s[:i]
	j := strings.LastIndexByte(rest, '-')
	if j <= 0 {
		return Identifier{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	owner, codeYear := rest[:j], rest[j+1:]
	if len(codeYear) < 5 {
		return Identifier{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	code, year := codeYear[:len(codeYear)-4], codeYear[len(codeYear)-4:]
	kind, ok := codeKinds[code]
	if !ok {
		return Identifier{}, fmt.Errorf("%w: unknown kind code %q in %q", ErrMalformed, code, s)
	}
	scope, err := NewScope(kind, year, owner)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	seq, err := parseSeq(seqPart)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Identifier{Scope: scope, Seq: seq}, nil
}

func parseClient(s string) (Identifier, error) {
	if len(s) < 8 || !strings.HasPrefix(s, "UB") || s[6] != 'C' {
		return Identifier{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	scope, err := NewScope(KindClient, s[2:6], GlobalOwner)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	seq, err := parseSeq(s[7:])
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Identifier{Scope: scope, Seq: seq}, nil
}

func parseSeq(s string) (int64, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, ErrMalformed
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrMalformed
	}
	return n, nil
}

// KindOf returns the kind encoded in an identifier.
func KindOf(s string) (Kind, error) {
	id, err := Parse(s)
	if err != nil {
		return "", err
	}
	return id.Kind, nil
}

func validYear(y string) bool {
	if len(y) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if y[i] < '0' || y[i] > '9' {
			return false
		}
	}
	return true
}

func validOwner(o string) bool {
	for _, r := range o {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
