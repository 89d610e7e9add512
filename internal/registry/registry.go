package registry

import (
	"fmt"

	"Approve/internal/conf"
	"Approve/internal/registry/nacos"

	"github.com/go-kratos/kratos/contrib/registry/consul/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/registry"
	"github.com/google/wire"
	consulapi "github.com/hashicorp/consul/api"
)

// ProviderSet 是 registry 的提供者集合
var ProviderSet = wire.NewSet(NewRegistrar)

// NewRegistrar picks the registry by kind. An empty kind disables
// registration and returns a nil registrar.
func NewRegistrar(c *conf.Registry, logger log.Logger) (registry.Registrar, error) {
	helper := log.NewHelper(log.With(logger, "module", "registry"))
	if c == nil {
		c = &conf.Registry{}
	}
	switch c.Kind {
	case "", "none":
		helper.Info("service registry disabled")
		return nil, nil
	case "consul":
		return newConsul(c.Consul)
	case "nacos":
		return nacos.New(c.Nacos)
	default:
		return nil, fmt.Errorf("unknown registry kind %q", c.Kind)
	}
}

func newConsul(c *conf.Registry_Consul) (registry.Registrar, error) {
	if c == nil {
		return nil, fmt.Errorf("consul 配置缺失")
	}
	cfg := consulapi.DefaultConfig()
	cfg.Address = c.Address
	if c.Scheme != "" {
		cfg.Scheme = c.Scheme
	}
	cfg.Token = c.Token
	cfg.Datacenter = c.Datacenter
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return consul.New(client, consul.WithHealthCheck(true)), nil
}
