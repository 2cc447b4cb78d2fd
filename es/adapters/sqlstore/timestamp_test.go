package sqlstore_test

import (
	"testing"
	"time"

	"github.com/getpup/pupcommand/es/adapters/sqlstore"
)

func TestTimestamp_Scan(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)

	tests := []struct {
		src  any
		name string
		want time.Time
	}{
		{name: "time", src: want.In(time.FixedZone("CET", 3600)), want: want},
		{name: "text with micros", src: "2024-03-01 12:30:45.123456", want: want},
		{name: "bytes", src: []byte("2024-03-01 12:30:45.123456"), want: want},
		{name: "text without fraction", src: "2024-03-01 12:30:45", want: want.Truncate(time.Second)},
		{name: "rfc3339", src: "2024-03-01T12:30:45Z", want: want.Truncate(time.Second)},
		{name: "null", src: nil, want: time.Time{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var ts sqlstore.Timestamp
			if err := ts.Scan(tt.src); err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if !ts.Time.Equal(tt.want) {
				t.Errorf("Scan() = %v, want %v", ts.Time, tt.want)
			}
		})
	}
}

func TestTimestamp_ScanRejectsGarbage(t *testing.T) {
	var ts sqlstore.Timestamp
	if err := ts.Scan("yesterday"); err == nil {
		t.Error("Expected error for unparseable text")
	}
	if err := ts.Scan(42); err == nil {
		t.Error("Expected error for unsupported type")
	}
}
