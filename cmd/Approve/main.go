package main

import (
	"flag"
	"os"

	"Approve/internal/biz"
	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/registry"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name string = "approve"
	// Version is the version of the compiled software.
	Version string = "1.0.0"
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(bc *conf.Bootstrap, logger log.Logger, gs *grpc.Server, hs *http.Server, sched *biz.SessionScheduler, registrar registry.Registrar) *kratos.App {
	opts := []kratos.Option{
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Logger(logger),
		kratos.Server(
			hs,
			gs,
			sched,
		),
	}
	if bc.Registry.Consul != nil {
		opts = append(opts, kratos.Metadata(bc.Registry.Consul.Metadata))
	}
	if registrar != nil {
		opts = append(opts, kratos.Registrar(registrar))
	}
	return kratos.New(opts...)
}

// withDefaults fills the sections a minimal config may leave out.
func withDefaults(bc *conf.Bootstrap) {
	if bc.Server == nil {
		bc.Server = &conf.Server{}
	}
	if bc.Data == nil {
		bc.Data = &conf.Data{}
	}
	if bc.Registry == nil {
		bc.Registry = &conf.Registry{}
	}
	if bc.Transport == nil {
		bc.Transport = &conf.Transport{}
	}
	if bc.Login == nil {
		bc.Login = &conf.Login{}
	}
	if bc.Scheduler == nil {
		bc.Scheduler = &conf.Scheduler{}
	}
	if bc.Notify == nil {
		bc.Notify = &conf.Notify{}
	}
}

func main() {
	flag.Parse()
	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}
	withDefaults(&bc)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Registry, bc.Transport, bc.Login, bc.Scheduler, bc.Notify, logger, &bc)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
