package ledger

import "go.uber.org/fx"

var Module = fx.Module("ledger",
	fx.Provide(
		NewClient,
		func(c *Client) UsageSink { return c },
		NewReporter,
	),
)
