package biz

import (
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(NewSchedulerOptions, NewSessionScheduler, NewTransportUsecase)

// TransportUsecase exposes connection pool diagnostics.
type TransportUsecase struct {
	info ProxyInfo
}

// NewTransportUsecase .
func NewTransportUsecase(info ProxyInfo) *TransportUsecase {
	return &TransportUsecase{info: info}
}

// TransportStatus is the pool state shown to operators.
type TransportStatus struct {
	CurrentProxy string `json:"currentProxy"`
	Slots        int    `json:"slots"`
}

// Status reads the pool state.
func (uc *TransportUsecase) Status() TransportStatus {
	proxy := uc.info.CurrentProxy()
	if proxy == "" {
		proxy = "direct"
	}
	return TransportStatus{CurrentProxy: proxy, Slots: uc.info.Size()}
}
