package es

import (
	"errors"
	"testing"
)

type account struct {
	AggregateRoot
	balance int
}

func newAccount(id string) *account {
	return &account{AggregateRoot: NewAggregateRoot("Account", id)}
}

func (a *account) ApplyEvent(e DomainEvent) error {
	switch p := e.Payload.(type) {
	case int:
		a.balance += p
	case string:
		return errors.New(p)
	}
	return nil
}

func (a *account) RestoreSnapshot(e DomainEvent) error {
	a.balance = e.Payload.(int)
	return nil
}

func (a *account) SnapshotState() any {
	return a.balance
}

func TestApply_AssignsContiguousSequenceNumbers(t *testing.T) {
	a := newAccount("acc-1")

	for i := 0; i < 3; i++ {
		if _, err := Apply(a, "Deposited", 10); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	events := a.UncommittedEvents()
	if len(events) != 3 {
		t.Fatalf("expected 3 uncommitted events, got %d", len(events))
	}
	for i, e := range events {
		if e.SequenceNumber != int64(i) {
			t.Errorf("event %d has sequence %d", i, e.SequenceNumber)
		}
		if e.AggregateID != "acc-1" || e.AggregateType != "Account" {
			t.Errorf("event %d has wrong aggregate identity: %s/%s", i, e.AggregateType, e.AggregateID)
		}
	}
	if a.Version() != -1 {
		t.Errorf("Version() before commit = %d, want -1", a.Version())
	}

	a.CommitEvents()

	if a.Version() != 2 {
		t.Errorf("Version() after commit = %d, want 2", a.Version())
	}
	if len(a.UncommittedEvents()) != 0 {
		t.Error("expected uncommitted events to be cleared")
	}
	if a.balance != 30 {
		t.Errorf("balance = %d, want 30", a.balance)
	}
}

func TestApply_FailsOnDeletedAggregate(t *testing.T) {
	a := newAccount("acc-1")
	a.MarkDeleted()

	if _, err := Apply(a, "Deposited", 1); !errors.Is(err, ErrAggregateDeleted) {
		t.Errorf("expected ErrAggregateDeleted, got %v", err)
	}
}

func TestApply_DoesNotRecordRejectedEvent(t *testing.T) {
	a := newAccount("acc-1")

	if _, err := Apply(a, "Broken", "boom"); err == nil {
		t.Fatal("expected error")
	}
	if len(a.UncommittedEvents()) != 0 {
		t.Error("rejected event must not be recorded")
	}
}

func TestReplay(t *testing.T) {
	tests := []struct {
		name        string
		events      []DomainEvent
		wantBalance int
		wantVersion int64
		wantErr     error
	}{
		{
			name: "plain stream",
			events: []DomainEvent{
				{SequenceNumber: 0, Payload: 5},
				{SequenceNumber: 1, Payload: 7},
			},
			wantBalance: 12,
			wantVersion: 1,
		},
		{
			name: "snapshot seeded stream",
			events: []DomainEvent{
				{SequenceNumber: 9, Payload: 100, Snapshot: true},
				{SequenceNumber: 10, Payload: 1},
			},
			wantBalance: 101,
			wantVersion: 10,
		},
		{
			name: "gap in sequence",
			events: []DomainEvent{
				{SequenceNumber: 0, Payload: 5},
				{SequenceNumber: 2, Payload: 7},
			},
			wantErr: ErrUnexpectedSequence,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			a := newAccount("acc-1")
			err := Replay(a, Stream{AggregateType: "Account", AggregateID: "acc-1", Events: tt.events})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Replay() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Replay() error = %v", err)
			}
			if a.balance != tt.wantBalance {
				t.Errorf("balance = %d, want %d", a.balance, tt.wantBalance)
			}
			if a.Version() != tt.wantVersion {
				t.Errorf("Version() = %d, want %d", a.Version(), tt.wantVersion)
			}
		})
	}
}

func TestNewFactory(t *testing.T) {
	f := NewFactory("Account", func(id string) Aggregate { return newAccount(id) })

	if f.AggregateType() != "Account" {
		t.Errorf("AggregateType() = %s", f.AggregateType())
	}
	agg := f.NewAggregate("acc-9")
	if agg.AggregateID() != "acc-9" || agg.Version() != -1 {
		t.Errorf("unexpected aggregate: %s at %d", agg.AggregateID(), agg.Version())
	}
}

func TestTakeSnapshot(t *testing.T) {
	a := newAccount("acc-1")
	if _, err := TakeSnapshot(a, "AccountSnapshot"); !errors.Is(err, ErrSnapshotUnsupported) {
		t.Errorf("expected ErrSnapshotUnsupported for a new aggregate, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := Apply(a, "Deposited", 5); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	if _, err := TakeSnapshot(a, "AccountSnapshot"); !errors.Is(err, ErrSnapshotUnsupported) {
		t.Errorf("expected ErrSnapshotUnsupported with uncommitted events, got %v", err)
	}
	a.CommitEvents()

	snap, err := TakeSnapshot(a, "AccountSnapshot")
	if err != nil {
		t.Fatalf("TakeSnapshot() error = %v", err)
	}
	if !snap.Snapshot || snap.SequenceNumber != 2 || snap.Payload != 15 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	restored := newAccount("acc-1")
	if err := Replay(restored, Stream{AggregateType: "Account", AggregateID: "acc-1", Events: []DomainEvent{snap}}); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if restored.balance != 15 || restored.Version() != 2 {
		t.Errorf("restored balance %d at version %d, want 15 at 2", restored.balance, restored.Version())
	}
}
