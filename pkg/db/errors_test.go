package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_revenue_shares_purchase"}
	wrapped := fmt.Errorf("insert share: %w", pgErr)

	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"nil", nil, "", false},
		{"pg any constraint", wrapped, "", true},
		{"pg matching constraint", wrapped, "ux_revenue_shares_purchase", true},
		{"pg other constraint", wrapped, "ux_other", false},
		{"pg other code", &pgconn.PgError{Code: "23503"}, "", false},
		{"sqlite", errors.New("UNIQUE constraint failed: revenue_shares.purchase_id"), "ux_revenue_shares_purchase", true},
		{"message", errors.New(`duplicate key value violates unique constraint "ux_revenue_shares_purchase"`), "ux_revenue_shares_purchase", true},
		{"unrelated", errors.New("connection reset"), "", false},
	}
	for _, tc := range cases {
		if got := IsUniqueViolation(tc.err, tc.constraint); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}
