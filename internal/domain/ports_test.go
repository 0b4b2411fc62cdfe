package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestProductUnmarshal(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID ProductID
	}{
		{name: "string id", raw: `{"id":"p1","name":"A","price":10}`, wantID: "p1"},
		{name: "numeric id", raw: `{"id":42,"name":"A","price":"10.50"}`, wantID: "42"},
		{name: "null id", raw: `{"id":null,"name":"A","price":1}`, wantID: ""},
		{name: "exponent id", raw: `{"id":1e2,"name":"A","price":1}`, wantID: "100"},
		{name: "upper exponent id", raw: `{"id":1E2,"name":"A","price":1}`, wantID: "100"},
		{name: "trailing zero fraction", raw: `{"id":100.0,"name":"A","price":1}`, wantID: "100"},
		{name: "beyond int64", raw: `{"id":12345678901234567890,"name":"A","price":1}`, wantID: "12345678901234567890"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Product
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &p))
			require.Equal(t, tt.wantID, p.ID)
			require.Equal(t, "A", p.Name)
		})
	}
}

func TestProductUnmarshal_Price(t *testing.T) {
	var products []Product
	require.NoError(t, json.Unmarshal([]byte(`[{"id":"p1","name":"A","price":19.99}]`), &products))
	require.Len(t, products, 1)
	require.True(t, products[0].Price.Equal(decimal.RequireFromString("19.99")))
}

func TestProductUnmarshal_InvalidID(t *testing.T) {
	var p Product
	require.Error(t, json.Unmarshal([]byte(`{"id":{"x":1}}`), &p))
	require.Error(t, json.Unmarshal([]byte(`{"id":1.5}`), &p))
}

func TestProductIDMatchesAcrossNumericForms(t *testing.T) {
	var ids []ProductID
	require.NoError(t, json.Unmarshal([]byte(`[100, 1e2, "100", 100.00]`), &ids))
	for _, id := range ids {
		require.Equal(t, ProductID("100"), id)
	}
}
