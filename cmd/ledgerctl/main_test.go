package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderledger/internal/domain"
)

func TestWriteSKUs(t *testing.T) {
	var buf bytes.Buffer
	err := writeSKUs(&buf, []domain.SKU{
		{ID: "sku_tea", Code: "TEA-01", ProductName: "Green tea", Price: domain.NewMoney(20, 0), Stock: 7},
		{ID: "sku_mug", Code: "MUG-02", ProductName: "Mug", Price: domain.NewMoney(8, 50), Stock: 0},
	}, "abc")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "ID"))
	require.Contains(t, lines[1], "20.00")
	require.Contains(t, lines[2], "8.50")
	require.Equal(t, "next page token: abc", lines[3])
}

func TestPutSKURejectsBadPriceBeforeConnecting(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}

	err := app.Run([]string{"ledgerctl", "--database-url", "postgres://unused", "sku", "put",
		"--code", "TEA-01", "--name", "Green tea", "--price", "twenty"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "--price")
}

func TestSKUPutRequiresFlags(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}

	err := app.Run([]string{"ledgerctl", "sku", "put", "--code", "TEA-01"})
	require.Error(t, err)
}
