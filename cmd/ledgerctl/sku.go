package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/hanko-field/orderledger/internal/domain"
	ppostgres "github.com/hanko-field/orderledger/internal/platform/postgres"
	pgrepo "github.com/hanko-field/orderledger/internal/repositories/postgres"
	"github.com/hanko-field/orderledger/internal/services"
)

func skuCommand() *cli.Command {
	return &cli.Command{
		Name:  "sku",
		Usage: "maintain sellable SKUs",
		Subcommands: []*cli.Command{
			{
				Name:  "put",
				Usage: "create or replace a SKU",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "SKU id; generated when empty"},
					&cli.StringFlag{Name: "code", Required: true},
					&cli.StringFlag{Name: "name", Usage: "product name", Required: true},
					&cli.StringFlag{Name: "price", Usage: "unit price, e.g. 20.00", Required: true},
					&cli.IntFlag{Name: "stock", Usage: "units on hand"},
				},
				Action: putSKU,
			},
			{
				Name:  "list",
				Usage: "list SKUs by id",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page-size", Value: 50},
					&cli.StringFlag{Name: "page-token"},
				},
				Action: listSKUs,
			},
		},
	}
}

func putSKU(c *cli.Context) error {
	price, err := domain.ParseMoney(c.String("price"))
	if err != nil {
		return fmt.Errorf("--price: %w", err)
	}
	return withInventory(c, func(ctx context.Context, inventory services.InventoryService) error {
		sku, err := inventory.PutSKU(ctx, services.PutSKUCommand{
			ID:          c.String("id"),
			Code:        c.String("code"),
			ProductName: c.String("name"),
			Price:       price,
			Stock:       c.Int("stock"),
		})
		if err != nil {
			return err
		}
		return writeSKUs(c.App.Writer, []domain.SKU{sku}, "")
	})
}

func listSKUs(c *cli.Context) error {
	return withInventory(c, func(ctx context.Context, inventory services.InventoryService) error {
		page, err := inventory.ListSKUs(ctx, services.Pagination{
			PageSize:  c.Int("page-size"),
			PageToken: c.String("page-token"),
		})
		if err != nil {
			return err
		}
		return writeSKUs(c.App.Writer, page.Items, page.NextPageToken)
	})
}

func withInventory(c *cli.Context, fn func(context.Context, services.InventoryService) error) error {
	return withPool(c, func(ctx context.Context, pool *pgxpool.Pool) error {
		reg, err := pgrepo.NewRegistry(pool, []ppostgres.TxOption{ppostgres.WithTxAttempts(3)})
		if err != nil {
			return err
		}
		inventory, err := services.NewInventoryService(services.InventoryServiceDeps{SKUs: reg.SKUs()})
		if err != nil {
			return err
		}
		return fn(ctx, inventory)
	})
}

func writeSKUs(w io.Writer, skus []domain.SKU, next string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tNAME\tPRICE\tSTOCK")
	for _, sku := range skus {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", sku.ID, sku.Code, sku.ProductName, sku.Price.String(), sku.Stock)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if next != "" {
		_, err := fmt.Fprintf(w, "next page token: %s\n", next)
		return err
	}
	return nil
}
