package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/brandseal/brandseal/internal/allowance"
	"github.com/brandseal/brandseal/internal/clock"
	"github.com/brandseal/brandseal/internal/commerce"
	"github.com/brandseal/brandseal/internal/config"
	"github.com/brandseal/brandseal/internal/ledger"
	"github.com/brandseal/brandseal/internal/locking"
	"github.com/brandseal/brandseal/internal/migration"
	"github.com/brandseal/brandseal/internal/observability"
	"github.com/brandseal/brandseal/internal/pipeline"
	"github.com/brandseal/brandseal/internal/processing"
	"github.com/brandseal/brandseal/internal/server"
	"github.com/brandseal/brandseal/internal/shop"
	"github.com/brandseal/brandseal/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		locking.Module,
		migration.Module,

		shop.Module,
		allowance.Module,
		commerce.Module,
		pipeline.Module,
		ledger.Module,
		processing.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
