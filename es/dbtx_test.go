package es_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/getpup/pupcommand/es"
)

func TestDBTXFromContext(t *testing.T) {
	fallback := &sql.DB{}
	bound := &sql.Tx{}

	tests := []struct {
		ctx  context.Context
		want es.DBTX
		name string
	}{
		{name: "nothing bound", ctx: context.Background(), want: fallback},
		{name: "transaction bound", ctx: es.ContextWithDBTX(context.Background(), bound), want: bound},
		{name: "nil bound", ctx: es.ContextWithDBTX(context.Background(), nil), want: fallback},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := es.DBTXFromContext(tt.ctx, fallback); got != tt.want {
				t.Errorf("DBTXFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}
