package conf

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap is the root of configs/config.yaml.
type Bootstrap struct {
	Server    *Server    `json:"server"`
	Data      *Data      `json:"data"`
	Registry  *Registry  `json:"registry"`
	Transport *Transport `json:"transport"`
	Login     *Login     `json:"login"`
	Scheduler *Scheduler `json:"scheduler"`
	Notify    *Notify    `json:"notify"`
	Accounts  []*Account `json:"accounts"`
}

// Duration is a time.Duration written as "5s" or "50m" in the config file.
type Duration struct {
	time.Duration
}

// UnmarshalJSON accepts duration strings and plain nanosecond numbers.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

// AsDuration returns the duration, zero for a nil receiver.
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}

// Or returns the duration, or def when it is unset.
func (d *Duration) Or(def time.Duration) time.Duration {
	if v := d.AsDuration(); v > 0 {
		return v
	}
	return def
}

type Server struct {
	Http *Server_HTTP `json:"http"`
	Grpc *Server_GRPC `json:"grpc"`
}

type Server_HTTP struct {
	Network            string    `json:"network"`
	Addr               string    `json:"addr"`
	Timeout            *Duration `json:"timeout"`
	CorsAllowedOrigins []string  `json:"cors_allowed_origins"`
}

type Server_GRPC struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

type Data struct {
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
}

type Data_Database struct {
	Driver     string `json:"driver"`
	Source     string `json:"source"`
	Migrations string `json:"migrations"`
}

type Data_Redis struct {
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int32     `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
	// Channel receives account snapshots.
	Channel string `json:"channel"`
}

type Registry struct {
	// Kind is one of "", "consul" or "nacos".
	Kind   string           `json:"kind"`
	Consul *Registry_Consul `json:"consul"`
	Nacos  *Registry_Nacos  `json:"nacos"`
}

type Registry_Consul struct {
	Address    string            `json:"address"`
	Scheme     string            `json:"scheme"`
	Token      string            `json:"token"`
	Datacenter string            `json:"datacenter"`
	Metadata   map[string]string `json:"metadata"`
}

type Registry_Nacos struct {
	Client  *Registry_Nacos_Client  `json:"client"`
	Service *Registry_Nacos_Service `json:"service"`
}

type Registry_Nacos_Client struct {
	Address   string `json:"address"`
	Port      uint32 `json:"port"`
	GrpcPort  uint32 `json:"grpc_port"`
	Namespace string `json:"namespace"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	LogDir    string `json:"log_dir"`
	CacheDir  string `json:"cache_dir"`
}

type Registry_Nacos_Service struct {
	Name      string  `json:"name"`
	Group     string  `json:"group"`
	Ip        string  `json:"ip"`
	Port      uint32  `json:"port"`
	GrpcPort  uint32  `json:"grpc_port"`
	Weight    float64 `json:"weight"`
	Enabled   bool    `json:"enabled"`
	Healthy   bool    `json:"healthy"`
	Ephemeral bool    `json:"ephemeral"`
}

type Transport struct {
	Target       string `json:"target"`
	MethodPrefix string `json:"method_prefix"`
	// Insecure dials without TLS; only useful against a local backend.
	Insecure bool `json:"insecure"`
	// Proxies may be empty, an empty entry dials directly.
	Proxies            []string          `json:"proxies"`
	RotationInterval   *Duration         `json:"rotation_interval"`
	MaxRetries         *int32            `json:"max_retries"`
	BaseDelay          *Duration         `json:"base_delay"`
	RestrictedCooldown *Duration         `json:"restricted_cooldown"`
	CallTimeout        *Duration         `json:"call_timeout"`
	Headers            map[string]string `json:"headers"`
	// EnvelopeKey is 32 bytes, hex encoded.
	EnvelopeKey string `json:"envelope_key"`
}

// Key decodes EnvelopeKey.
func (t *Transport) Key() ([]byte, error) {
	key, err := hex.DecodeString(t.EnvelopeKey)
	if err != nil {
		return nil, fmt.Errorf("envelope key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("envelope key: want 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Retries returns the retry budget, 1 when unset.
func (t *Transport) Retries() int {
	if t.MaxRetries == nil || *t.MaxRetries < 0 {
		return 1
	}
	return int(*t.MaxRetries)
}

type Login struct {
	Endpoint string    `json:"endpoint"`
	Path     string    `json:"path"`
	Timeout  *Duration `json:"timeout"`
}

type Scheduler struct {
	LoginPoll         *Duration `json:"login_poll"`
	ActionPoll        *Duration `json:"action_poll"`
	DiscoveryInterval *Duration `json:"discovery_interval"`
	SessionTtl        *Duration `json:"session_ttl"`
	LoginCooldown     *Duration `json:"login_cooldown"`
	TakeoverCooldown  *Duration `json:"takeover_cooldown"`
}

type Notify struct {
	Webhook string `json:"webhook"`
	Prefix  string `json:"prefix"`
}

type Account struct {
	Id        string   `json:"id"`
	Name      string   `json:"name"`
	Password  string   `json:"password"`
	AutoLogin bool     `json:"auto_login"`
	Features  []string `json:"features"`
}
