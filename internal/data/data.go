package data

import (
	"context"
	"time"

	"Approve/internal/biz"
	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewEnvelope,
	NewConnPool,
	NewExecutor,
	NewRetryPolicy,
	NewGameRepo,
	NewLoginRepo,
	NewNotifier,
	NewAccountObserver,
	NewEventRepo,
	NewAccountRepo,
	wire.Bind(new(Codec), new(*Envelope)),
	wire.Bind(new(biz.ProxyInfo), new(*ConnPool)),
)

// Data holds the optional stores. Both the database and redis may be absent,
// the scheduler runs without them.
type Data struct {
	db    *gorm.DB
	redis *redis.Client
	log   *log.Helper
}

// openDatabase is replaced in tests.
var openDatabase = func(source string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(source), &gorm.Config{})
}

// NewData .
func NewData(c *conf.Data, logger log.Logger) (*Data, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data"))
	d := &Data{log: helper}
	if c == nil {
		c = &conf.Data{}
	}

	if c.Database != nil && c.Database.Source != "" {
		db, err := openDatabase(c.Database.Source)
		if err != nil {
			return nil, nil, err
		}
		d.db = db

		// 设置连接池参数
		sqlDB, err := db.DB()
		if err != nil {
			d.close()
			return nil, nil, err
		}
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)

		// 运行数据库迁移
		if c.Database.Migrations != "" {
			if err := runMigrations(c.Database.Migrations, c.Database.Source); err != nil {
				d.close()
				return nil, nil, err
			}
		}
	} else {
		helper.Info("database not configured, lifecycle events are not stored")
	}

	if c.Redis != nil && c.Redis.Addr != "" {
		// 初始化Redis客户端
		d.redis = redis.NewClient(&redis.Options{
			Addr:         c.Redis.Addr,
			Password:     c.Redis.Password,
			DB:           int(c.Redis.Db),
			ReadTimeout:  c.Redis.ReadTimeout.AsDuration(),
			WriteTimeout: c.Redis.WriteTimeout.AsDuration(),
		})

		// 测试Redis连接
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.redis.Ping(ctx).Err(); err != nil {
			d.close()
			return nil, nil, err
		}
	} else {
		helper.Info("redis not configured, account snapshots are not published")
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		d.close()
	}
	return d, cleanup, nil
}

func runMigrations(dir, source string) error {
	m, err := migrate.New("file://"+dir, source)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// close releases whatever NewData opened so far.
func (d *Data) close() {
	if d.db != nil {
		sqlDB, err := d.db.DB()
		if err != nil {
			d.log.Error(err)
		} else if err := sqlDB.Close(); err != nil {
			d.log.Error(err)
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.log.Error(err)
		}
	}
}
