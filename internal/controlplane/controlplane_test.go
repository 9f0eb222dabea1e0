package controlplane

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lifi-labs/fee-ingestion-engine/internal/apperrors"
)

// AddChain's request validation and address-shape check both run before
// any registry/supervisor access, so they can be exercised against a
// ControlPlane built with nil dependencies, without a live document
// store or RPC pool.

func newValidationOnlyControlPlane() *ControlPlane {
	return New(nil, nil, nil, nil, Defaults{})
}

func TestAddChain_RejectsMissingRequiredFields(t *testing.T) {
	cp := newValidationOnlyControlPlane()
	_, err := cp.AddChain(context.Background(), AddChainRequest{})
	assert.Equal(t, apperrors.ValidationError, apperrors.KindOf(err))
}

func TestAddChain_RejectsMalformedRPCURL(t *testing.T) {
	cp := newValidationOnlyControlPlane()
	_, err := cp.AddChain(context.Background(), AddChainRequest{
		ChainID:         1,
		Name:            "polygon",
		RPCURL:          "not-a-url",
		ContractAddress: "0xabcdef1234567890abcdef1234567890abcdef12",
	})
	assert.Equal(t, apperrors.ValidationError, apperrors.KindOf(err))
}

func TestAddChain_RejectsMalformedContractAddress(t *testing.T) {
	cp := newValidationOnlyControlPlane()
	_, err := cp.AddChain(context.Background(), AddChainRequest{
		ChainID:         1,
		Name:            "polygon",
		RPCURL:          "https://rpc.example.com",
		ContractAddress: "not-an-address",
	})
	assert.Equal(t, apperrors.ValidationError, apperrors.KindOf(err))
}

func TestAddChain_RejectsNonPositiveChainID(t *testing.T) {
	cp := newValidationOnlyControlPlane()
	_, err := cp.AddChain(context.Background(), AddChainRequest{
		ChainID:         0,
		Name:            "polygon",
		RPCURL:          "https://rpc.example.com",
		ContractAddress: "0xabcdef1234567890abcdef1234567890abcdef12",
	})
	assert.Equal(t, apperrors.ValidationError, apperrors.KindOf(err))
}
