package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/command"
	"github.com/getpup/pupcommand/es/disruptor"
	"github.com/getpup/pupcommand/es/serializer"
)

const accountType = "Account"

var errInsufficientFunds = errors.New("insufficient funds")

type accountOpened struct {
	Owner string `json:"owner" msgpack:"owner"`
}

type moneyDeposited struct {
	Amount int `json:"amount" msgpack:"amount"`
}

type moneyWithdrawn struct {
	Amount int `json:"amount" msgpack:"amount"`
}

type accountState struct {
	Owner   string `json:"owner" msgpack:"owner"`
	Balance int    `json:"balance" msgpack:"balance"`
}

type account struct {
	es.AggregateRoot
	state accountState
}

func newAccount(id string) es.Aggregate {
	return &account{AggregateRoot: es.NewAggregateRoot(accountType, id)}
}

func (a *account) ApplyEvent(e es.DomainEvent) error {
	switch p := e.Payload.(type) {
	case accountOpened:
		a.state.Owner = p.Owner
	case moneyDeposited:
		a.state.Balance += p.Amount
	case moneyWithdrawn:
		a.state.Balance -= p.Amount
	default:
		return fmt.Errorf("unexpected %s payload %T", e.EventType, e.Payload)
	}
	return nil
}

func (a *account) SnapshotState() any { return a.state }

func (a *account) RestoreSnapshot(e es.DomainEvent) error {
	state, ok := e.Payload.(accountState)
	if !ok {
		return fmt.Errorf("unexpected snapshot payload %T", e.Payload)
	}
	a.state = state
	return nil
}

func ledgerTypes() *serializer.TypeRegistry {
	return serializer.NewTypeRegistry().
		MustRegister("AccountOpened", accountOpened{}).
		MustRegister("MoneyDeposited", moneyDeposited{}).
		MustRegister("MoneyWithdrawn", moneyWithdrawn{}).
		MustRegister("AccountState", accountState{})
}

type openAccount struct {
	ID    string
	Owner string
}

func (c openAccount) TargetAggregateID() string { return c.ID }

type depositMoney struct {
	ID     string
	Amount int
}

func (c depositMoney) TargetAggregateID() string { return c.ID }

type withdrawMoney struct {
	ID     string
	Amount int
}

func (c withdrawMoney) TargetAggregateID() string { return c.ID }

func ledgerRegistry() (*command.Registry, error) {
	r := command.NewRegistry()
	for name, fn := range map[string]func(context.Context, command.Command) (any, error){
		"OpenAccount":   handleOpen,
		"DepositMoney":  handleDeposit,
		"WithdrawMoney": handleWithdraw,
	} {
		if err := r.RegisterFunc(name, fn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func handleOpen(ctx context.Context, cmd command.Command) (any, error) {
	p := cmd.Payload.(openAccount)
	acc, err := disruptor.NewAggregate[*account](ctx, accountType, p.ID)
	if err != nil {
		return nil, err
	}
	if _, err := es.Apply(acc, "AccountOpened", accountOpened{Owner: p.Owner}); err != nil {
		return nil, err
	}
	return p.ID, nil
}

func handleDeposit(ctx context.Context, cmd command.Command) (any, error) {
	p := cmd.Payload.(depositMoney)
	acc, err := disruptor.LoadAggregate[*account](ctx, accountType, p.ID)
	if err != nil {
		return nil, err
	}
	if _, err := es.Apply(acc, "MoneyDeposited", moneyDeposited{Amount: p.Amount}); err != nil {
		return nil, err
	}
	return acc.state.Balance, nil
}

func handleWithdraw(ctx context.Context, cmd command.Command) (any, error) {
	p := cmd.Payload.(withdrawMoney)
	acc, err := disruptor.LoadAggregate[*account](ctx, accountType, p.ID)
	if err != nil {
		return nil, err
	}
	if acc.state.Balance < p.Amount {
		return nil, command.Checked(errInsufficientFunds)
	}
	if _, err := es.Apply(acc, "MoneyWithdrawn", moneyWithdrawn{Amount: p.Amount}); err != nil {
		return nil, err
	}
	return acc.state.Balance, nil
}
