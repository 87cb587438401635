package allowance

import "go.uber.org/fx"

var Module = fx.Module("allowance",
	fx.Provide(NewEngine),
)
