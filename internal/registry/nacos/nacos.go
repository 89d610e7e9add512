package nacos

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2/registry"
	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// endpoint is one registered port of the control plane.
type endpoint struct {
	suffix string
	port   uint32
}

// Registrar registers the http and grpc ports as two nacos services.
type Registrar struct {
	client naming_client.INamingClient
	svc    *conf.Registry_Nacos_Service
}

// New 创建 Nacos 服务注册实例
func New(c *conf.Registry_Nacos) (*Registrar, error) {
	if c == nil || c.Client == nil || c.Service == nil {
		return nil, fmt.Errorf("nacos 配置不完整")
	}
	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("获取工作目录失败: %v", err)
	}
	// 在 cmd/Approve 下运行时回退到项目根目录
	if strings.HasSuffix(workDir, "/cmd/Approve") {
		workDir = filepath.Dir(filepath.Dir(workDir))
	}

	clientConfig := constant.ClientConfig{
		NamespaceId:         c.Client.Namespace,
		NotLoadCacheAtStart: true,
		LogDir:              resolveDir(workDir, c.Client.LogDir, "log/nacos"),
		CacheDir:            resolveDir(workDir, c.Client.CacheDir, "cache/nacos"),
		Username:            c.Client.Username,
		Password:            c.Client.Password,
	}
	serverConfigs := []constant.ServerConfig{
		{
			IpAddr:   c.Client.Address,
			Port:     uint64(c.Client.Port),
			GrpcPort: uint64(c.Client.GrpcPort),
		},
	}

	client, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Nacos 客户端失败: %v", err)
	}
	return &Registrar{client: client, svc: c.Service}, nil
}

func resolveDir(workDir, dir, def string) string {
	if dir == "" {
		dir = def
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(workDir, dir)
}

func (r *Registrar) endpoints() []endpoint {
	var eps []endpoint
	if r.svc.Port != 0 {
		eps = append(eps, endpoint{suffix: "-http", port: r.svc.Port})
	}
	if r.svc.GrpcPort != 0 {
		eps = append(eps, endpoint{suffix: "-grpc", port: r.svc.GrpcPort})
	}
	return eps
}

// Register 注册服务到 Nacos
func (r *Registrar) Register(_ context.Context, service *registry.ServiceInstance) error {
	var errs []error
	for _, ep := range r.endpoints() {
		ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
			Ip:          r.svc.Ip,
			Port:        uint64(ep.port),
			Weight:      r.svc.Weight,
			Enable:      r.svc.Enabled,
			Healthy:     r.svc.Healthy,
			Metadata:    service.Metadata,
			ServiceName: r.svc.Name + ep.suffix,
			GroupName:   r.svc.Group,
			Ephemeral:   r.svc.Ephemeral,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("注册 %s%s 失败: %v", r.svc.Name, ep.suffix, err))
		} else if !ok {
			errs = append(errs, fmt.Errorf("注册 %s%s 失败: 返回失败", r.svc.Name, ep.suffix))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("服务注册失败: %v", errs)
	}
	return nil
}

// Deregister 从 Nacos 注销服务
func (r *Registrar) Deregister(_ context.Context, _ *registry.ServiceInstance) error {
	var errs []error
	for _, ep := range r.endpoints() {
		ok, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
			Ip:          r.svc.Ip,
			Port:        uint64(ep.port),
			ServiceName: r.svc.Name + ep.suffix,
			GroupName:   r.svc.Group,
			Ephemeral:   r.svc.Ephemeral,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("注销 %s%s 失败: %v", r.svc.Name, ep.suffix, err))
		} else if !ok {
			errs = append(errs, fmt.Errorf("注销 %s%s 失败: 返回失败", r.svc.Name, ep.suffix))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("服务注销失败: %v", errs)
	}
	return nil
}
