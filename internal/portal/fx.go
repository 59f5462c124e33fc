package portal

import "go.uber.org/fx"

var Module = fx.Module("billing.portal",
	fx.Provide(NewStripeSessionCreator),
	fx.Provide(NewService),
)
