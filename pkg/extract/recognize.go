package extract

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes recognized as expected for optional catalog queries.
const (
	InsufficientPrivilege = "42501"
	UndefinedTable        = "42P01"
)

// PostgresCodes returns a classifier that recognizes PostgreSQL errors with
// one of the given SQLSTATE codes anywhere in the chain.
func PostgresCodes(codes ...string) func(error) bool {
	return func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && slices.Contains(codes, pgErr.Code)
	}
}

// MatchingErrors returns a classifier that recognizes errors whose text
// matches any of the patterns.
func MatchingErrors(patterns []string) (func(error) bool, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("expected error pattern %q: %w", p, err)
		}
		res = append(res, re)
	}
	return func(err error) bool {
		msg := err.Error()
		for _, re := range res {
			if re.MatchString(msg) {
				return true
			}
		}
		return false
	}, nil
}

// AnyOf combines classifiers.
func AnyOf(fns ...func(error) bool) func(error) bool {
	return func(err error) bool {
		for _, fn := range fns {
			if fn != nil && fn(err) {
				return true
			}
		}
		return false
	}
}
