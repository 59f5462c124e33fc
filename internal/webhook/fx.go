package webhook

import (
	"github.com/smallbiznis/tokenledger/internal/billingevent/adapters"
	"github.com/smallbiznis/tokenledger/internal/billingevent/adapters/stripe"
	reconcileservice "github.com/smallbiznis/tokenledger/internal/reconcile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(stripe.NewFactory())
	}),
	fx.Provide(func(svc *reconcileservice.Service) Reconciler { return svc }),
	fx.Provide(NewService),
)
