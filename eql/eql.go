// Package eql builds EddyQL query text with bound parameters. It is pure
// string construction: parameters are never interpolated into the text,
// they travel alongside it and the server binds them.
package eql

import (
	"fmt"
	"strings"
)

// Query is a statement (or statement list) plus its bound parameters.
type Query struct {
	statements []string
	vars       map[string]any
}

// New starts a query from a statement.
func New(text string) *Query {
	return &Query{
		statements: []string{text},
		vars:       make(map[string]any),
	}
}

// Newf starts a query from a formatted statement. Use bound parameters, not
// Newf, for anything value-like.
func Newf(format string, args ...any) *Query {
	return New(fmt.Sprintf(format, args...))
}

// Append adds another statement, separated from the previous one with ";".
func (q *Query) Append(text string) *Query {
	q.statements = append(q.statements, text)
	return q
}

// Bind records a parameter value under a name referenced as $name in the
// text. Binding a name again overwrites the earlier value.
func (q *Query) Bind(name string, value any) *Query {
	q.vars[name] = value
	return q
}

// String returns the query text.
func (q *Query) String() string {
	return strings.Join(q.statements, "; ")
}

// Vars returns a copy of the bound parameters.
func (q *Query) Vars() map[string]any {
	out := make(map[string]any, len(q.vars))
	for name, value := range q.vars {
		out[name] = value
	}
	return out
}

// Params renders the [text, vars] pair the query RPC expects.
func (q *Query) Params() []any {
	return []any{q.String(), q.Vars()}
}
