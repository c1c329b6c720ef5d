package gateway

import (
	"fmt"

	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/marshalcore/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// New builds the gateway client selected by cfg.Mode
func New(cfg config.GatewayConfig, directory transfer.RecipientDirectory, handles transfer.RecipientHandleCache, log *zap.Logger) (transfer.GatewayClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Mode {
	case config.GatewayModeSimulated:
		log.Warn("Using simulated payment gateway; no money will move")
		return NewSimulatedGateway(), nil
	case config.GatewayModeLive:
		return NewPaystackClient(&PaystackConfig{
			BaseURL:   cfg.BaseURL,
			SecretKey: cfg.SecretKey,
			Timeout:   cfg.Timeout,
			Source:    cfg.Source,
			Currency:  cfg.Currency,
		}, directory, WithHandleCache(handles), WithLogger(log.Named("paystack")))
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.Mode)
	}
}
