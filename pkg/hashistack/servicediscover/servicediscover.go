package servicediscover

import (
	"context"
	"fmt"

	"merchant-voucher/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module registers the HTTP API with consul for the lifetime of the app.
// Without CONSUL.ADDR it does nothing.
var Module = fx.Module("servicediscover", fx.Invoke(registerConsul))

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

func registerConsul(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Consul.Addr == "" {
		return nil
	}

	registry, err := NewConsulRegistry(cfg.Consul.Addr, Registration(cfg))
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("registering with consul", zap.String("service_id", registry.serviceID))
			return registry.Register(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return registry.Deregister(ctx)
		},
	})
	return nil
}

// Registration describes this instance with an HTTP check on /readyz.
func Registration(cfg *config.Config) *api.AgentServiceRegistration {
	id := cfg.Consul.ServiceID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", cfg.AppName, cfg.Consul.Host, cfg.Consul.Port)
	}

	return &api.AgentServiceRegistration{
		ID:      id,
		Name:    cfg.AppName,
		Address: cfg.Consul.Host,
		Port:    cfg.Consul.Port,
		Tags:    []string{cfg.AppEnv, cfg.AppVersion},
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/readyz", cfg.Consul.Host, cfg.Consul.Port),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
}

type ConsulRegistry struct {
	client    *api.Client
	serviceID string
	service   *api.AgentServiceRegistration
}

func NewConsulRegistry(address string, service *api.AgentServiceRegistration) (*ConsulRegistry, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{
		client:    client,
		serviceID: service.ID,
		service:   service,
	}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.client.Agent().ServiceRegister(r.service)
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	return r.client.Agent().ServiceDeregister(r.serviceID)
}
