// Package ql implements a hand-written recursive-descent parser for the
// three statement forms the TCP server accepts, all addressed against a
// single fixed table name:
//
//	INSERT INTO the_table (<key>) VALUES (<value>);
//	DELETE FROM the_table WHERE key = "<key>";
//	SELECT <key> FROM the_table;
//
// Each statement must be terminated by ";", optional trailing spaces or
// tabs, then exactly one newline, with nothing after it. A parser-combinator
// library would be disproportionate machinery for three fixed shapes, so
// this is the one place the storage core reaches for the standard library
// instead of a third-party dependency.
package ql

import (
	"fmt"
	"strings"

	"github.com/arjunmenon/lsmkv/internal/storeerr"
)

const tableName = "the_table"

// Kind tags which statement form a Statement holds.
type Kind uint8

const (
	KindInsert Kind = iota
	KindDelete
	KindSelect
)

// Statement is a parsed query. Value is only meaningful for KindInsert.
type Statement struct {
	Kind  Kind
	Key   string
	Value string
}

// Parse parses exactly one statement out of input. input must contain
// nothing beyond the statement's terminating newline.
func Parse(input string) (Statement, error) {
	switch {
	case strings.HasPrefix(input, "INSERT"):
		return parseInsert(input)
	case strings.HasPrefix(input, "DELETE"):
		return parseDelete(input)
	case strings.HasPrefix(input, "SELECT"):
		return parseSelect(input)
	default:
		return Statement{}, fmt.Errorf("%w: unrecognized statement", storeerr.ErrParseError)
	}
}

func parseInsert(input string) (Statement, error) {
	rest, err := consumeSeq(input, "INSERT", space1, "INTO", space1, tableName, space1, "(")
	if err != nil {
		return Statement{}, err
	}
	key, rest, err := consumeUntil(rest, ')')
	if err != nil {
		return Statement{}, fmt.Errorf("%w: unterminated key in INSERT", storeerr.ErrParseError)
	}
	rest, err = consumeSeq(rest, ")", space1, "VALUES", space1, "(")
	if err != nil {
		return Statement{}, err
	}
	value, rest, err := consumeUntil(rest, ')')
	if err != nil {
		return Statement{}, fmt.Errorf("%w: unterminated value in INSERT", storeerr.ErrParseError)
	}
	rest, err = consumeSeq(rest, ")", ";")
	if err != nil {
		return Statement{}, err
	}
	if err := expectTerminator(rest); err != nil {
		return Statement{}, err
	}
	return Statement{Kind: KindInsert, Key: key, Value: value}, nil
}

func parseDelete(input string) (Statement, error) {
	rest, err := consumeSeq(input, "DELETE", space1, "FROM", space1, tableName, space1,
		"WHERE", space1, "key", space1, "=", space1, "\"")
	if err != nil {
		return Statement{}, err
	}
	key, rest, err := consumeUntil(rest, '"')
	if err != nil {
		return Statement{}, fmt.Errorf("%w: unterminated key in DELETE", storeerr.ErrParseError)
	}
	rest, err = consumeSeq(rest, "\"", ";")
	if err != nil {
		return Statement{}, err
	}
	if err := expectTerminator(rest); err != nil {
		return Statement{}, err
	}
	return Statement{Kind: KindDelete, Key: key}, nil
}

func parseSelect(input string) (Statement, error) {
	rest, err := consumeSeq(input, "SELECT", space1)
	if err != nil {
		return Statement{}, err
	}
	key, rest, err := consumeUntil(rest, ' ')
	if err != nil {
		return Statement{}, fmt.Errorf("%w: missing FROM clause in SELECT", storeerr.ErrParseError)
	}
	rest, err = consumeSeq(rest, space1, "FROM", space1, tableName, ";")
	if err != nil {
		return Statement{}, err
	}
	if err := expectTerminator(rest); err != nil {
		return Statement{}, err
	}
	return Statement{Kind: KindSelect, Key: key}, nil
}

// space1 and space0 are sentinels passed to consumeSeq to request one-or-more
// and zero-or-more runs of horizontal whitespace (space or tab), mirroring
// the original grammar's space1/space0 combinators.
const (
	space1 = "\x00space1"
	space0 = "\x00space0"
)

// consumeSeq applies each token to rest in order: a literal string is
// matched and stripped verbatim; the space1 sentinel requires and consumes
// one or more horizontal whitespace characters.
func consumeSeq(rest string, tokens ...string) (string, error) {
	for _, tok := range tokens {
		switch tok {
		case space1:
			next, ok := consumeSpace(rest, true)
			if !ok {
				return "", fmt.Errorf("%w: expected whitespace", storeerr.ErrParseError)
			}
			rest = next
		case space0:
			rest, _ = consumeSpace(rest, false)
		default:
			if !strings.HasPrefix(rest, tok) {
				return "", fmt.Errorf("%w: expected %q", storeerr.ErrParseError, tok)
			}
			rest = rest[len(tok):]
		}
	}
	return rest, nil
}

func consumeSpace(s string, required bool) (string, bool) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if required && i == 0 {
		return s, false
	}
	return s[i:], true
}

// consumeUntil returns the content of s up to (not including) the first
// occurrence of delim, and the remainder starting at delim.
func consumeUntil(s string, delim byte) (content string, rest string, err error) {
	idx := strings.IndexByte(s, delim)
	if idx < 0 {
		return "", "", fmt.Errorf("%w: delimiter %q not found", storeerr.ErrParseError, delim)
	}
	return s[:idx], s[idx:], nil
}

// expectTerminator requires s to be zero or more horizontal whitespace
// characters, then exactly one newline ("\n" or "\r\n"), and nothing else.
func expectTerminator(s string) error {
	s, _ = consumeSpace(s, false)
	switch {
	case strings.HasPrefix(s, "\r\n"):
		s = s[2:]
	case strings.HasPrefix(s, "\n"):
		s = s[1:]
	default:
		return fmt.Errorf("%w: statement must end with a newline", storeerr.ErrParseError)
	}
	if len(s) != 0 {
		return fmt.Errorf("%w: unexpected trailing input after statement", storeerr.ErrParseError)
	}
	return nil
}
