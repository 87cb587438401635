package shop

import (
	"github.com/brandseal/brandseal/internal/shop/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("shop.repository",
	fx.Provide(repository.NewRepository),
)
