package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/LIT-Protocol/morphomax/internal/types"
)

// InsertSwapRecord appends one orchestration audit entry. Records are
// immutable; there is deliberately no update path.
func InsertSwapRecord(record *types.SwapRecord) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid swap record: %w", err)
	}

	depositsJSON, err := json.Marshal(record.Deposits)
	if err != nil {
		return fmt.Errorf("failed to marshal deposits: %w", err)
	}
	redeemsJSON, err := json.Marshal(record.Redeems)
	if err != nil {
		return fmt.Errorf("failed to marshal redeems: %w", err)
	}
	positionsJSON, err := json.Marshal(record.UserVaultPositions)
	if err != nil {
		return fmt.Errorf("failed to marshal user_vault_positions: %w", err)
	}
	balancesJSON, err := json.Marshal(record.UserTokenBalances)
	if err != nil {
		return fmt.Errorf("failed to marshal user_token_balances: %w", err)
	}

	var topVaultJSON any
	if record.TopVault != nil {
		encoded, err := json.Marshal(record.TopVault)
		if err != nil {
			return fmt.Errorf("failed to marshal top_vault: %w", err)
		}
		topVaultJSON = encoded
	}

	query := `
		INSERT INTO swap_records (
			id, schedule_id, wallet_address, pkp_public_key, pkp_token_id,
			deposits, redeems, top_vault,
			user_vault_positions, user_token_balances,
			success, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`
	_, err = DB.Exec(
		query,
		record.ID, record.ScheduleID,
		record.PKPInfo.EthAddress, record.PKPInfo.PublicKey, record.PKPInfo.TokenID,
		depositsJSON, redeemsJSON, topVaultJSON,
		positionsJSON, balancesJSON,
		record.Success, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert swap record: %w", err)
	}

	log.Info().
		Str("record_id", record.ID.String()).
		Str("wallet", record.PKPInfo.EthAddress).
		Bool("success", record.Success).
		Int("redeems", len(record.Redeems)).
		Int("deposits", len(record.Deposits)).
		Msg("Swap record saved")
	return nil
}

// ListSwapRecordsByWallet returns the wallet's audit entries newest first.
// Limit zero means no limit.
func ListSwapRecordsByWallet(walletAddress string, limit, skip int) ([]types.SwapRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT id, schedule_id, wallet_address, pkp_public_key, pkp_token_id,
		       deposits, redeems, top_vault,
		       user_vault_positions, user_token_balances,
		       success, created_at
		FROM swap_records
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT CASE WHEN $2 > 0 THEN $2 END OFFSET $3;
	`
	rows, err := DB.Query(query, walletAddress, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to query swap records for %s: %w", walletAddress, err)
	}
	defer rows.Close()

	var records []types.SwapRecord
	for rows.Next() {
		record, err := scanSwapRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating swap record rows: %w", err)
	}
	return records, nil
}

func scanSwapRecord(rows *sql.Rows) (*types.SwapRecord, error) {
	var record types.SwapRecord
	var depositsJSON, redeemsJSON, positionsJSON, balancesJSON []byte
	var topVaultJSON []byte

	err := rows.Scan(
		&record.ID, &record.ScheduleID,
		&record.PKPInfo.EthAddress, &record.PKPInfo.PublicKey, &record.PKPInfo.TokenID,
		&depositsJSON, &redeemsJSON, &topVaultJSON,
		&positionsJSON, &balancesJSON,
		&record.Success, &record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan swap record row: %w", err)
	}

	if err := json.Unmarshal(depositsJSON, &record.Deposits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deposits: %w", err)
	}
	if err := json.Unmarshal(redeemsJSON, &record.Redeems); err != nil {
		return nil, fmt.Errorf("failed to unmarshal redeems: %w", err)
	}
	if err := json.Unmarshal(positionsJSON, &record.UserVaultPositions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user_vault_positions: %w", err)
	}
	if err := json.Unmarshal(balancesJSON, &record.UserTokenBalances); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user_token_balances: %w", err)
	}
	if len(topVaultJSON) > 0 {
		record.TopVault = &types.MorphoVaultInfo{}
		if err := json.Unmarshal(topVaultJSON, record.TopVault); err != nil {
			return nil, fmt.Errorf("failed to unmarshal top_vault: %w", err)
		}
	}

	// Stored records went through Validate on insert; re-check on the way out
	// so a hand-edited row cannot leak a malformed result into API responses.
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("stored swap record %s is malformed: %w", record.ID, err)
	}
	return &record, nil
}
