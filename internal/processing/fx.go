package processing

import (
	"go.uber.org/fx"

	"github.com/brandseal/brandseal/internal/commerce"
	"github.com/brandseal/brandseal/internal/ledger"
	"github.com/brandseal/brandseal/internal/pipeline"
	"github.com/brandseal/brandseal/internal/processing/domain"
	"github.com/brandseal/brandseal/internal/processing/service"
)

var Module = fx.Module("processing",
	fx.Provide(
		func(c *commerce.Client) domain.CommerceGateway { return c },
		func(d *pipeline.Dispatcher) domain.JobDispatcher { return d },
		func(r *ledger.Reporter) domain.UsageReporter { return r },
		service.NewService,
	),
)
