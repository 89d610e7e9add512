//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"Approve/internal/biz"
	"Approve/internal/conf"
	"Approve/internal/data"
	"Approve/internal/registry"
	"Approve/internal/server"
	"Approve/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(confServer *conf.Server, confData *conf.Data, confRegistry *conf.Registry, transport *conf.Transport, login *conf.Login, scheduler *conf.Scheduler, notify *conf.Notify, logger log.Logger, bootstrap *conf.Bootstrap) (*kratos.App, func(), error) {
	panic(wire.Build(server.ProviderSet, data.ProviderSet, biz.ProviderSet, service.ProviderSet, registry.ProviderSet, newApp))
}
