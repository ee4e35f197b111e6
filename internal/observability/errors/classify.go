// Package errors classifies errors into low-cardinality labels for metrics and logs.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

// Classify returns a normalized error label suitable for tagging metrics/logs.
// Pipeline errors are labelled by their code, Postgres errors by SQLSTATE class
// and anything else by the innermost concrete type.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	switch {
	case goerrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	}
	var pgErr *pgconn.PgError
	if goerrors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		return "pg_" + pgErr.Code[:2]
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ReplaceAll(strings.ToLower(t.String()), ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
