package data

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrPoolClosed is returned once the pool has been shut down.
var ErrPoolClosed = errors.ServiceUnavailable("POOL_CLOSED", "connection pool closed")

// SlotState is the lifecycle of one pooled connection.
type SlotState int

const (
	SlotUninitialized SlotState = iota
	SlotReady
	SlotClosed
)

func (s SlotState) String() string {
	switch s {
	case SlotReady:
		return "ready"
	case SlotClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Dialer opens the client connection of one slot.
type Dialer func(proxy string) (*grpc.ClientConn, error)

// Slot is one connection bound to a proxy, or direct when Proxy is empty.
// A call keeps the slot it started with even if the pool rotates.
type Slot struct {
	Index int
	Proxy string

	mu    sync.Mutex
	conn  *grpc.ClientConn
	state SlotState

	// retired slots belong to a closed or rebuilt pool and never redial
	retired bool
}

// State reports the slot lifecycle.
func (s *Slot) State() SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conn returns the slot connection, nil unless ready.
func (s *Slot) Conn() grpc.ClientConnInterface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn
}

func (s *Slot) ensure(dial Dialer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return ErrPoolClosed
	}
	if s.state == SlotReady && s.conn != nil {
		return nil
	}
	conn, err := dial(s.Proxy)
	if err != nil {
		return err
	}
	s.conn = conn
	s.state = SlotReady
	return nil
}

func (s *Slot) close() error {
	return s.shutdown(false)
}

// retire closes the slot for good.
func (s *Slot) retire() error {
	return s.shutdown(true)
}

func (s *Slot) shutdown(retire bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if retire {
		s.retired = true
	}
	s.state = SlotClosed
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// ConnPool keeps one slot per proxy and a rotating current index.
type ConnPool struct {
	dial Dialer
	log  *log.Helper

	mu      sync.RWMutex
	slots   []*Slot
	current int
	closed  bool

	stopRotation chan struct{}
	rotationDone chan struct{}
}

// NewConnPool 创建连接池并启动代理轮换
func NewConnPool(c *conf.Transport, logger log.Logger) (*ConnPool, func(), error) {
	p := NewConnPoolWithDialer(GRPCDialer(c.Target, c.Insecure), logger)
	if err := p.Initialize(c.Proxies); err != nil {
		return nil, nil, err
	}
	if len(c.Proxies) > 1 {
		p.StartRotation(c.RotationInterval.Or(15 * time.Second))
	} else {
		p.log.Info("proxy rotation disabled")
	}
	cleanup := func() {
		p.log.Info("closing the connection pool")
		p.Close()
	}
	return p, cleanup, nil
}

// NewConnPoolWithDialer builds an empty pool.
func NewConnPoolWithDialer(dial Dialer, logger log.Logger) *ConnPool {
	return &ConnPool{
		dial: dial,
		log:  log.NewHelper(log.With(logger, "module", "data/pool")),
	}
}

// GRPCDialer dials target over TLS, through the slot proxy when set.
func GRPCDialer(target string, plaintext bool) Dialer {
	return func(proxyAddr string) (*grpc.ClientConn, error) {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		if plaintext {
			creds = insecure.NewCredentials()
		}
		opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
		dialer, err := proxyDialer(proxyAddr)
		if err != nil {
			return nil, err
		}
		if dialer == nil {
			return grpc.NewClient(target, opts...)
		}
		opts = append(opts, grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer(ctx, addr)
		}))
		// the proxy resolves the host, not us
		return grpc.NewClient("passthrough:///"+target, opts...)
	}
}

// Initialize rebuilds the pool. An empty list yields one direct slot.
func (p *ConnPool) Initialize(proxies []string) error {
	if len(proxies) == 0 {
		proxies = []string{""}
	}
	slots := make([]*Slot, 0, len(proxies))
	for i, proxy := range proxies {
		slot := &Slot{Index: i, Proxy: proxy}
		if err := slot.ensure(p.dial); err != nil {
			for _, s := range slots {
				_ = s.retire()
			}
			return fmt.Errorf("init slot %d: %w", i, err)
		}
		slots = append(slots, slot)
	}

	p.mu.Lock()
	old := p.slots
	p.slots = slots
	p.current = 0
	p.closed = false
	p.mu.Unlock()

	for _, s := range old {
		_ = s.retire()
	}
	for _, s := range slots {
		p.log.Infof("slot %d ready: proxy=%s", s.Index, describe(s.Proxy))
	}
	return nil
}

// Current returns the slot at the rotation index, redialing it if a fatal
// error closed it.
func (p *ConnPool) Current() (*Slot, error) {
	p.mu.RLock()
	if p.closed || len(p.slots) == 0 {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	slot := p.slots[p.current]
	p.mu.RUnlock()

	if err := slot.ensure(p.dial); err != nil {
		if errors.Is(err, ErrPoolClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("redial slot %d: %w", slot.Index, err)
	}
	return slot, nil
}

// Rotate moves to the next slot and returns the new index.
func (p *ConnPool) Rotate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.slots) == 0 {
		return 0
	}
	p.current = (p.current + 1) % len(p.slots)
	p.log.Infof("rotated to slot %d: proxy=%s", p.current, describe(p.slots[p.current].Proxy))
	return p.current
}

// Index is the current rotation index.
func (p *ConnPool) Index() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// CurrentProxy describes the active slot proxy, empty when direct.
func (p *ConnPool) CurrentProxy() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.slots) == 0 {
		return ""
	}
	return redactProxy(p.slots[p.current].Proxy)
}

// Size is the number of slots.
func (p *ConnPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.slots)
}

// Release closes a slot presumed corrupted. The next Current on it redials.
func (p *ConnPool) Release(slot *Slot) {
	if slot == nil {
		return
	}
	if err := slot.close(); err != nil {
		p.log.Warnf("close slot %d: %v", slot.Index, err)
	}
	p.log.Warnf("slot %d closed: proxy=%s", slot.Index, describe(slot.Proxy))
}

// StartRotation advances the index on every tick, call or no call.
func (p *ConnPool) StartRotation(interval time.Duration) {
	p.mu.Lock()
	if p.stopRotation != nil || interval <= 0 {
		p.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	p.stopRotation, p.rotationDone = stop, done
	p.mu.Unlock()

	p.log.Infof("proxy rotation every %s over %d slots", interval, p.Size())
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.Rotate()
			}
		}
	}()
}

// StopRotation stops the rotation timer.
func (p *ConnPool) StopRotation() {
	p.mu.Lock()
	stop, done := p.stopRotation, p.rotationDone
	p.stopRotation, p.rotationDone = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Close stops rotation and closes every slot.
func (p *ConnPool) Close() {
	p.StopRotation()

	p.mu.Lock()
	p.closed = true
	slots := p.slots
	p.mu.Unlock()

	for _, s := range slots {
		if err := s.retire(); err != nil {
			p.log.Warnf("close slot %d: %v", s.Index, err)
		}
	}
}

func describe(proxy string) string {
	if proxy == "" {
		return "direct"
	}
	return redactProxy(proxy)
}
