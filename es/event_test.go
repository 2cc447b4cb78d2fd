package es

import (
	"testing"
)

func TestStream_Version(t *testing.T) {
	tests := []struct {
		name   string
		stream Stream
		want   int64
	}{
		{
			name: "empty stream returns -1",
			stream: Stream{
				AggregateType: "User",
				AggregateID:   "123",
				Events:        []DomainEvent{},
			},
			want: -1,
		},
		{
			name: "stream with one event returns its sequence number",
			stream: Stream{
				AggregateType: "User",
				AggregateID:   "123",
				Events: []DomainEvent{
					{SequenceNumber: 0},
				},
			},
			want: 0,
		},
		{
			name: "stream with multiple events returns last sequence number",
			stream: Stream{
				AggregateType: "User",
				AggregateID:   "123",
				Events: []DomainEvent{
					{SequenceNumber: 0},
					{SequenceNumber: 1},
					{SequenceNumber: 2},
				},
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stream.Version(); got != tt.want {
				t.Errorf("Stream.Version() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStream_IsEmptyAndLen(t *testing.T) {
	tests := []struct {
		name      string
		stream    Stream
		wantEmpty bool
		wantLen   int
	}{
		{
			name:      "nil events slice",
			stream:    Stream{AggregateType: "User", AggregateID: "123"},
			wantEmpty: true,
			wantLen:   0,
		},
		{
			name: "stream with events",
			stream: Stream{
				AggregateType: "User",
				AggregateID:   "123",
				Events:        []DomainEvent{{SequenceNumber: 0}, {SequenceNumber: 1}},
			},
			wantEmpty: false,
			wantLen:   2,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stream.IsEmpty(); got != tt.wantEmpty {
				t.Errorf("Stream.IsEmpty() = %v, want %v", got, tt.wantEmpty)
			}
			if got := tt.stream.Len(); got != tt.wantLen {
				t.Errorf("Stream.Len() = %v, want %v", got, tt.wantLen)
			}
		})
	}
}

func TestStream_StartsWithSnapshot(t *testing.T) {
	s := Stream{Events: []DomainEvent{{SequenceNumber: 4, Snapshot: true}, {SequenceNumber: 5}}}
	if !s.StartsWithSnapshot() {
		t.Error("expected stream to start with snapshot")
	}
	if (Stream{}).StartsWithSnapshot() {
		t.Error("empty stream must not report a snapshot")
	}
}

func TestDomainEvent_WithMetadataDoesNotAlias(t *testing.T) {
	original := NewDomainEvent("User", "u-1", 0, "UserCreated", "payload")
	original.Metadata = map[string]string{"a": "1"}

	copied := original.WithMetadata(map[string]string{"b": "2"})

	if _, ok := original.Metadata["b"]; ok {
		t.Error("original metadata was modified")
	}
	if copied.Metadata["a"] != "1" || copied.Metadata["b"] != "2" {
		t.Errorf("unexpected merged metadata: %v", copied.Metadata)
	}
}

func TestDomainEvent_SerializedPayloadCache(t *testing.T) {
	e := NewDomainEvent("User", "u-1", 0, "UserCreated", "payload")

	if _, ok := e.SerializedPayload("json"); ok {
		t.Fatal("expected no cached payload")
	}

	e.CacheSerializedPayload("json", []byte(`"payload"`))

	data, ok := e.SerializedPayload("json")
	if !ok || string(data) != `"payload"` {
		t.Errorf("SerializedPayload() = %q, %v", data, ok)
	}
}
