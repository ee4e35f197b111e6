package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

type customErr struct{}

func (customErr) Error() string { return "custom" }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"app error code", apperrors.DependencyUnconfigured("embedding"), "dependency_unconfigured"},
		{"wrapped app error", fmt.Errorf("handler: %w", apperrors.External(errors.New("boom"), "openai")), "external_service"},
		{"innermost type", fmt.Errorf("outer: %w", customErr{}), "errors_customerr"},
		{"canceled", fmt.Errorf("x: %w", context.Canceled), "canceled"},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), "timeout"},
		{"postgres class", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), "pg_23"},
		{"plain", errors.New("boom"), "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
