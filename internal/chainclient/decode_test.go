package chainclient

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func topicForAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func TestDecode_Success(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	integrator := common.HexToAddress("0x2222222222222222222222222222222222222222")

	nonIndexed := feesCollectedABI.Events["FeesCollected"].Inputs.NonIndexed()
	data, err := nonIndexed.Pack(big.NewInt(1_000_000), big.NewInt(250_000))
	require.NoError(t, err)

	raw := types.Log{
		Topics: []common.Hash{feesCollectedTopic, topicForAddress(token), topicForAddress(integrator)},
		Data:   data,
	}

	decoded, err := Decode(99, raw)
	require.NoError(t, err)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", decoded.Token)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", decoded.Integrator)
	assert.Equal(t, "1000000", decoded.IntegratorFee)
	assert.Equal(t, "250000", decoded.LifiFee)
}

func TestDecode_RejectsWrongTopicShape(t *testing.T) {
	raw := types.Log{Topics: []common.Hash{feesCollectedTopic}}
	_, err := Decode(1, raw)
	assert.Error(t, err)
}

func TestDecode_RejectsUnknownTopic(t *testing.T) {
	raw := types.Log{Topics: []common.Hash{{0x01}, {0x02}, {0x03}}}
	_, err := Decode(1, raw)
	assert.Error(t, err)
}
