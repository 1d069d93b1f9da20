package types

// VaultAsset describes the deposit asset of a vault as reported by the
// indexing API.
type VaultAsset struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
}

// VaultState is the indexer's current yield snapshot for a vault. All rates
// are fractions (0.045 = 4.5% APY).
type VaultState struct {
	Apy            float64 `json:"apy"`
	NetApy         float64 `json:"netApy"`
	AvgApy         float64 `json:"avgApy"`
	AvgNetApy      float64 `json:"avgNetApy"`
	TotalAssets    string  `json:"totalAssets"`
	TotalAssetsUSD float64 `json:"totalAssetsUsd"`
}

// MorphoVaultInfo is one ERC-4626 vault as known to the indexing API.
// State is nil when the indexer has no yield data for the vault; exit
// selection treats that as worse than any known yield.
type MorphoVaultInfo struct {
	Address     string      `json:"address"`
	Name        string      `json:"name"`
	Symbol      string      `json:"symbol"`
	Whitelisted bool        `json:"whitelisted"`
	Asset       VaultAsset  `json:"asset"`
	State       *VaultState `json:"state,omitempty"`
}
