package persist

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Statement keywords used to classify SQL text.
const (
	// readKeyword marks a statement as a read (Query) statement.
	readKeyword = "SELECT"
)

// keyedKeywords lists write statements that may produce a generated key.
var keyedKeywords = []string{"INSERT", "REPLACE"}

// Statement is SQL text plus positional bind values, not yet executed.
//
// The text is fixed at construction. Parameters are keyed by their 1-based
// position and persist across executions until ClearParameters is called.
//
// Thread Safety:
//   - A Statement is not safe for concurrent mutation. Build it on one goroutine
//     and hand it to a Query or Transaction afterwards.
type Statement struct {
	text   string
	params map[int]any
}

// NewStatement creates a Statement from SQL text with zero or more '?' placeholders.
//
// Parameters:
//   - text: SQL passed to the driver verbatim (must be non-empty)
//
// Returns:
//   - *Statement: statement with no bound parameters
//   - error: ErrInvalidArgument if text is empty
func NewStatement(text string) (*Statement, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: statement text must be non-empty", ErrInvalidArgument)
	}
	return &Statement{
		text:   text,
		params: make(map[int]any),
	}, nil
}

// MustStatement is like NewStatement but panics on invalid text.
// It is intended for package-level statements built from constants.
func MustStatement(text string) *Statement {
	s, err := NewStatement(text)
	if err != nil {
		panic(err)
	}
	return s
}

// SetParameter binds value to the parameter at index (the first parameter is 1).
//
// Returns the receiver so calls can be chained on success.
//
// Returns:
//   - error: ErrInvalidArgument if index < 1, ErrNullValue if value is nil
func (s *Statement) SetParameter(index int, value any) (*Statement, error) {
	if index < 1 {
		return s, fmt.Errorf("%w: parameter index starts at 1, got %d", ErrInvalidArgument, index)
	}
	if value == nil {
		return s, fmt.Errorf("%w: parameter %d value is nil", ErrNullValue, index)
	}
	s.params[index] = value
	return s, nil
}

// Parameters returns a snapshot of the bound parameters keyed by index.
// Modifying the returned map does not affect the Statement.
func (s *Statement) Parameters() map[int]any {
	return maps.Clone(s.params)
}

// ClearParameters removes all bound parameters and returns the receiver.
func (s *Statement) ClearParameters() *Statement {
	s.params = make(map[int]any)
	return s
}

// String returns the SQL text exactly as supplied to NewStatement.
func (s *Statement) String() string {
	return s.text
}

// Args returns the bound values in positional order, ready for the driver.
//
// Returns:
//   - []any: values for placeholders 1..n
//   - error: ErrInvalidArgument if a position below the highest bound index is unbound
func (s *Statement) Args() ([]any, error) {
	if len(s.params) == 0 {
		return nil, nil
	}
	indexes := slices.Sorted(maps.Keys(s.params))
	highest := indexes[len(indexes)-1]
	if highest != len(indexes) {
		for i := 1; i <= highest; i++ {
			if _, ok := s.params[i]; !ok {
				return nil, fmt.Errorf("%w: parameter %d is not bound", ErrInvalidArgument, i)
			}
		}
	}
	args := make([]any, highest)
	for i, v := range s.params {
		args[i-1] = v
	}
	return args, nil
}

// IsRead reports whether the statement is a read statement.
// Classification is by leading keyword, ignoring surrounding whitespace and case.
func (s *Statement) IsRead() bool {
	return hasKeyword(s.text, readKeyword)
}

// generatesKey reports whether a write statement may produce a generated key.
func (s *Statement) generatesKey() bool {
	for _, kw := range keyedKeywords {
		if hasKeyword(s.text, kw) {
			return true
		}
	}
	return false
}

// hasKeyword reports whether text starts with keyword, case-insensitively.
func hasKeyword(text, keyword string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < len(keyword) {
		return false
	}
	return strings.EqualFold(trimmed[:len(keyword)], keyword)
}
