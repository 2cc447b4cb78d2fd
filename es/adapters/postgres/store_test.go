package postgres_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"

	"github.com/getpup/pupcommand/es/adapters/postgres"
)

func TestDialect_Rebind(t *testing.T) {
	got := postgres.Dialect{}.Rebind("SELECT a FROM t WHERE b = ? AND c = ? AND d >= ?")
	want := "SELECT a FROM t WHERE b = $1 AND c = $2 AND d >= $3"
	if got != want {
		t.Errorf("Rebind() = %q, want %q", got, want)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pq unique violation", err: &pq.Error{Code: "23505"}, want: true},
		{name: "wrapped pq unique violation", err: fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), want: true},
		{name: "pq foreign key violation", err: &pq.Error{Code: "23503"}, want: false},
		{name: "message fallback", err: errors.New(`duplicate key value violates unique constraint "events_pkey"`), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := postgres.IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
