// Package permissions answers which application version a wallet currently
// permits, by querying the on-chain delegation registry.
package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/LIT-Protocol/morphomax/internal/chain"
	"github.com/LIT-Protocol/morphomax/internal/logger"
)

var ErrPermissionQueryFailed = errors.New("permission query failed")

// Oracle reads wallet permissions from the delegation registry contract.
type Oracle struct {
	client          *chain.Client
	registryAddress string
	appID           uint64
	logger          zerolog.Logger
}

// NewOracle creates a permission oracle for one application.
func NewOracle(client *chain.Client, registryAddress string, appID uint64) (*Oracle, error) {
	if client == nil {
		return nil, errors.New("chain client cannot be nil")
	}
	if registryAddress == "" {
		return nil, errors.New("registry address cannot be empty")
	}
	if appID == 0 {
		return nil, errors.New("app ID cannot be zero")
	}
	return &Oracle{
		client:          client,
		registryAddress: registryAddress,
		appID:           appID,
		logger:          logger.GetForComponent("permission_oracle"),
	}, nil
}

// GetPermittedVersion returns the app version the wallet identified by its
// token ID currently permits. Zero means no permission (never granted or
// revoked).
func (o *Oracle) GetPermittedVersion(ctx context.Context, pkpTokenID string) (int, error) {
	data, err := chain.EncodeCall(chain.SelectorPermittedAppVersion, pkpTokenID, o.appID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPermissionQueryFailed, err)
	}

	raw, err := o.client.CallContract(ctx, o.registryAddress, data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPermissionQueryFailed, err)
	}

	version, err := chain.DecodeUintHex(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPermissionQueryFailed, err)
	}
	if !version.IsInt64() {
		return 0, fmt.Errorf("%w: implausible version %s", ErrPermissionQueryFailed, version.String())
	}

	o.logger.Debug().
		Str("pkpTokenId", pkpTokenID).
		Int64("version", version.Int64()).
		Msg("Fetched permitted app version")
	return int(version.Int64()), nil
}
