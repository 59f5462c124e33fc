package reconcile

import (
	"github.com/smallbiznis/tokenledger/internal/reconcile/engine"
	"github.com/smallbiznis/tokenledger/internal/reconcile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile",
	fx.Provide(engine.New),
	fx.Provide(service.NewService),
)
