/*
This file is the version registry: which published app versions this service
can execute operations for, and how each version expects its parameters
encoded. Versions differ in more than numbering. Early versions take display
unit amounts and use a standalone approval ability, later versions take raw
base unit strings and fold approval into the vault ability. A wallet bound to
a version absent from this registry cannot be served.
*/

package abilities

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/LIT-Protocol/morphomax/internal/utils"
)

var ErrUnsupportedVersion = errors.New("app version is not supported")

// operationCodec renders approval, deposit and redeem requests the way one app
// version expects them. Amounts arrive in base units and leave in whatever
// encoding the version's abilities consume.
type operationCodec interface {
	// ApprovalRequest returns the ability name and parameters for approving the
	// vault to spend the token, plus the amount string recorded in the audit
	// trail.
	ApprovalRequest(tokenAddress, vaultAddress string, amount sdkmath.Int, decimals int) (string, map[string]any, string, error)
	// DepositRequest returns the ability name and parameters for depositing
	// into the vault.
	DepositRequest(vaultAddress string, amount sdkmath.Int, decimals int) (string, map[string]any, string, error)
	// RedeemRequest returns the ability name and parameters for redeeming all
	// given shares from the vault.
	RedeemRequest(vaultAddress string, shares sdkmath.Int, decimals int) (string, map[string]any, string, error)
}

// displayUnitCodec serves version 6. Amounts are display-unit floats and
// approvals go through the generic ERC20 approval ability. Approval amounts
// round up so float truncation can never under-approve the deposit that
// follows.
type displayUnitCodec struct{}

func (displayUnitCodec) ApprovalRequest(tokenAddress, vaultAddress string, amount sdkmath.Int, decimals int) (string, map[string]any, string, error) {
	approvalAmount, err := utils.ApprovalAmountCeil(amount, decimals)
	if err != nil {
		return "", nil, "", err
	}
	params := map[string]any{
		"tokenAddress":   tokenAddress,
		"spenderAddress": vaultAddress,
		"tokenAmount":    approvalAmount,
		"tokenDecimals":  decimals,
	}
	return "erc20-approval", params, fmt.Sprintf("%v", approvalAmount), nil
}

func (displayUnitCodec) DepositRequest(vaultAddress string, amount sdkmath.Int, decimals int) (string, map[string]any, string, error) {
	displayAmount, err := utils.IntToFloat64(amount, decimals)
	if err != nil {
		return "", nil, "", err
	}
	params := map[string]any{
		"operation":    "deposit",
		"vaultAddress": vaultAddress,
		"amount":       displayAmount,
	}
	return "morpho", params, fmt.Sprintf("%v", displayAmount), nil
}

func (displayUnitCodec) RedeemRequest(vaultAddress string, shares sdkmath.Int, decimals int) (string, map[string]any, string, error) {
	displayShares, err := utils.IntToFloat64(shares, decimals)
	if err != nil {
		return "", nil, "", err
	}
	params := map[string]any{
		"operation":    "redeem",
		"vaultAddress": vaultAddress,
		"amount":       displayShares,
	}
	return "morpho", params, fmt.Sprintf("%v", displayShares), nil
}

// baseUnitCodec serves version 27. Amounts are exact base-unit strings and the
// vault ability handles its own approval.
type baseUnitCodec struct{}

func (baseUnitCodec) ApprovalRequest(tokenAddress, vaultAddress string, amount sdkmath.Int, _ int) (string, map[string]any, string, error) {
	params := map[string]any{
		"operation":    "approve",
		"tokenAddress": tokenAddress,
		"vaultAddress": vaultAddress,
		"amount":       amount.String(),
	}
	return "morpho", params, amount.String(), nil
}

func (baseUnitCodec) DepositRequest(vaultAddress string, amount sdkmath.Int, _ int) (string, map[string]any, string, error) {
	params := map[string]any{
		"operation":    "deposit",
		"vaultAddress": vaultAddress,
		"amount":       amount.String(),
	}
	return "morpho", params, amount.String(), nil
}

func (baseUnitCodec) RedeemRequest(vaultAddress string, shares sdkmath.Int, _ int) (string, map[string]any, string, error) {
	params := map[string]any{
		"operation":    "redeem",
		"vaultAddress": vaultAddress,
		"amount":       shares.String(),
	}
	return "morpho", params, shares.String(), nil
}

var versionRegistry = map[int]operationCodec{
	6:  displayUnitCodec{},
	27: baseUnitCodec{},
}

// IsSupported reports whether this service can execute operations at the given
// app version.
func IsSupported(version int) bool {
	_, ok := versionRegistry[version]
	return ok
}

// SupportedVersions lists the registered versions, for diagnostics.
func SupportedVersions() []int {
	versions := make([]int, 0, len(versionRegistry))
	for v := range versionRegistry {
		versions = append(versions, v)
	}
	return versions
}

func codecFor(version int) (operationCodec, error) {
	codec, ok := versionRegistry[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d (supported: %v)", ErrUnsupportedVersion, version, SupportedVersions())
	}
	return codec, nil
}
