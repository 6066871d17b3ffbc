package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTicketTypeSalesOpen(t *testing.T) {
	now := time.Now()
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name string
		tt   TicketType
		want bool
	}{
		{"active without window", TicketType{Active: true}, true},
		{"inactive", TicketType{Active: false}, false},
		{"inside window", TicketType{Active: true, SalesStartAt: &before, SalesEndAt: &after}, true},
		{"before start", TicketType{Active: true, SalesStartAt: &after}, false},
		{"after end", TicketType{Active: true, SalesEndAt: &before}, false},
		{"only start passed", TicketType{Active: true, SalesStartAt: &before}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.tt.SalesOpen(now))
		})
	}
}
