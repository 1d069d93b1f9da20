package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApprovalResultValidate(t *testing.T) {
	tests := []struct {
		name    string
		result  ApprovalResult
		wantErr error
	}{
		{
			name:   "success with transaction",
			result: ApprovalResult{Status: OperationSuccess, Amount: "1.5", TokenAddress: "0xusdc", Transaction: "0xabc"},
		},
		{
			name:   "success without transaction when allowance already covered",
			result: ApprovalResult{Status: OperationSuccess, Amount: "1.5", TokenAddress: "0xusdc"},
		},
		{
			name:    "success carrying an error",
			result:  ApprovalResult{Status: OperationSuccess, Amount: "1.5", TokenAddress: "0xusdc", Error: "boom"},
			wantErr: ErrMalformedResult,
		},
		{
			name:   "error with reason",
			result: ApprovalResult{Status: OperationError, Amount: "1.5", TokenAddress: "0xusdc", Error: "rejected"},
		},
		{
			name:    "error without reason",
			result:  ApprovalResult{Status: OperationError, Amount: "1.5", TokenAddress: "0xusdc"},
			wantErr: ErrMalformedResult,
		},
		{
			name:    "unknown status tag",
			result:  ApprovalResult{Status: "pending", Amount: "1.5", TokenAddress: "0xusdc"},
			wantErr: ErrInvalidOperationStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVaultOpResultValidate(t *testing.T) {
	ok := VaultOpResult{Status: OperationSuccess, Amount: "100", VaultAddress: "0xvault", Transaction: "0xabc"}
	assert.NoError(t, ok.Validate())

	missingTx := VaultOpResult{Status: OperationSuccess, Amount: "100", VaultAddress: "0xvault"}
	assert.ErrorIs(t, missingTx.Validate(), ErrMalformedResult)

	missingReason := VaultOpResult{Status: OperationError, Amount: "100", VaultAddress: "0xvault"}
	assert.ErrorIs(t, missingReason.Validate(), ErrMalformedResult)
}

func TestDepositAttemptValidate(t *testing.T) {
	approval := ApprovalResult{Status: OperationSuccess, Amount: "100", TokenAddress: "0xusdc", Transaction: "0xa"}
	deposit := VaultOpResult{Status: OperationSuccess, Amount: "100", VaultAddress: "0xvault", Transaction: "0xb"}

	assert.NoError(t, DepositAttempt{Approval: approval, Deposit: &deposit}.Validate())

	// A successful approval must be followed by a deposit result.
	assert.ErrorIs(t, DepositAttempt{Approval: approval}.Validate(), ErrMalformedResult)

	// A failed approval implies the deposit was never attempted.
	failed := ApprovalResult{Status: OperationError, Amount: "100", TokenAddress: "0xusdc", Error: "denied"}
	assert.NoError(t, DepositAttempt{Approval: failed}.Validate())
}

func TestSwapRecordValidateWalksAllResults(t *testing.T) {
	record := &SwapRecord{
		Deposits: []DepositAttempt{{
			Approval: ApprovalResult{Status: OperationSuccess, Amount: "100", TokenAddress: "0xusdc"},
			Deposit:  &VaultOpResult{Status: OperationSuccess, Amount: "100", VaultAddress: "0xvault", Transaction: "0xb"},
		}},
		Redeems: []VaultOpResult{
			{Status: OperationError, Amount: "50", VaultAddress: "0xold"},
		},
		Success: true,
	}
	assert.ErrorIs(t, record.Validate(), ErrMalformedResult)

	record.Redeems[0].Error = "insufficient shares"
	assert.NoError(t, record.Validate())
}
