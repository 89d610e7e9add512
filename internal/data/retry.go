package data

import (
	"context"
	stderrors "errors"
	"time"

	"Approve/internal/biz"
	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrCallFailed wraps a transport failure the policy gave up on.
var ErrCallFailed = errors.ServiceUnavailable("CALL_FAILED", "remote call failed")

// maxBackoff caps the exponential retry delay.
const maxBackoff = 5 * time.Minute

var (
	// 连接可能已损坏, 关闭槽位且不重试
	fatalCodes = map[codes.Code]bool{
		codes.DataLoss: true,
	}
	retryableCodes = map[codes.Code]bool{
		codes.Unavailable:       true,
		codes.ResourceExhausted: true,
		codes.DeadlineExceeded:  true,
		codes.Aborted:           true,
		codes.Internal:          true,
	}
)

type roundTripper interface {
	Execute(ctx context.Context, method string, headers map[string]string, body []byte, needResponse bool) (*Reply, error)
}

type slotPool interface {
	Release(*Slot)
	CurrentProxy() string
}

// RetryPolicy classifies executor failures and retries the transient ones.
// It keeps no per-call state, every Call owns its attempt counter.
type RetryPolicy struct {
	exec               roundTripper
	pool               slotPool
	maxRetries         int
	baseDelay          time.Duration
	restrictedCooldown time.Duration
	sleep              func(ctx context.Context, d time.Duration) error
	log                *log.Helper
}

// NewRetryPolicy .
func NewRetryPolicy(c *conf.Transport, exec *Executor, pool *ConnPool, logger log.Logger) *RetryPolicy {
	return newRetryPolicy(exec, pool, c.Retries(), c.BaseDelay.Or(2*time.Second), c.RestrictedCooldown.Or(5*time.Minute), logger)
}

func newRetryPolicy(exec roundTripper, pool slotPool, maxRetries int, base, restricted time.Duration, logger log.Logger) *RetryPolicy {
	return &RetryPolicy{
		exec:               exec,
		pool:               pool,
		maxRetries:         maxRetries,
		baseDelay:          base,
		restrictedCooldown: restricted,
		sleep:              sleepContext,
		log:                log.NewHelper(log.With(logger, "module", "data/retry")),
	}
}

// Call runs method until it succeeds, fails for good, or the budget of
// maxRetries extra attempts is spent.
func (p *RetryPolicy) Call(ctx context.Context, method string, headers map[string]string, body []byte, needResponse bool) (*Reply, error) {
	for attempt := 0; ; attempt++ {
		reply, err := p.exec.Execute(ctx, method, headers, body, needResponse)
		if err == nil {
			return reply, nil
		}
		code, proxy := status.Code(err), p.pool.CurrentProxy()
		var rt *RoundTripError
		if stderrors.As(err, &rt) {
			code, proxy = rt.Code(), redactProxy(rt.Proxy)
		}
		// codec errors carry a grpc status of their own, check them first
		if biz.IsCodecError(err) {
			p.log.Errorf("%s: codec failure, proxy=%s: %v", method, proxyLabel(proxy), err)
			return nil, err
		}
		final := attempt >= p.maxRetries

		switch {
		case code == codes.PermissionDenied:
			if final {
				p.log.Warnf("%s: access restricted on final attempt %d, proxy=%s", method, attempt, proxyLabel(proxy))
				return nil, ErrCallFailed.WithCause(err)
			}
			p.log.Warnf("%s: access restricted, cooling down %s, attempt=%d proxy=%s", method, p.restrictedCooldown, attempt, proxyLabel(proxy))
			if err := p.sleep(ctx, p.restrictedCooldown); err != nil {
				return nil, err
			}
		case fatalCodes[code]:
			p.log.Errorf("%s: fatal %s, closing slot, proxy=%s", method, code, proxyLabel(proxy))
			if rt != nil {
				p.pool.Release(rt.slot)
			}
			return nil, ErrCallFailed.WithCause(err)
		case retryableCodes[code]:
			if final {
				p.log.Warnf("%s: %s, retries exhausted after %d attempts, proxy=%s", method, code, attempt+1, proxyLabel(proxy))
				return nil, ErrCallFailed.WithCause(err)
			}
			delay := backoff(p.baseDelay, attempt)
			p.log.Warnf("%s: %s, retry in %s, attempt=%d proxy=%s", method, code, delay, attempt, proxyLabel(proxy))
			if err := p.sleep(ctx, delay); err != nil {
				return nil, err
			}
		default:
			p.log.Warnf("%s: %s, not retried, proxy=%s", method, code, proxyLabel(proxy))
			return nil, ErrCallFailed.WithCause(err)
		}
	}
}

// backoff is base doubled per attempt, capped at maxBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt >= 63 || base > maxBackoff>>uint(attempt) {
		return maxBackoff
	}
	return base << uint(attempt)
}

func proxyLabel(proxy string) string {
	if proxy == "" {
		return "direct"
	}
	return proxy
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
