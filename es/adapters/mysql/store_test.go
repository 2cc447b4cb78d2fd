package mysql_test

import (
	"errors"
	"fmt"
	"testing"

	driver "github.com/go-sql-driver/mysql"

	"github.com/getpup/pupcommand/es/adapters/mysql"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "duplicate entry", err: &driver.MySQLError{Number: 1062}, want: true},
		{name: "wrapped duplicate entry", err: fmt.Errorf("insert: %w", &driver.MySQLError{Number: 1062}), want: true},
		{name: "other mysql error", err: &driver.MySQLError{Number: 1146}, want: false},
		{name: "message fallback", err: errors.New("Duplicate entry 'Account-a1-0' for key 'unique_aggregate_sequence'"), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := mysql.IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("IsUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
