package keyvault

import (
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

func sealTestWallet(t *testing.T, password []byte) (*GeneratedWallet, *types.Wallet) {
	t.Helper()

	generated, err := GenerateWallet()
	require.NoError(t, err)

	sealed, err := SealWallet(generated.PrivateKey, generated.Mnemonic, password)
	require.NoError(t, err)
	require.Equal(t, generated.Address, sealed.Address)

	return generated, &types.Wallet{
		Address:             sealed.Address,
		EncryptedPrivateKey: sealed.EncryptedPrivateKey,
		EncryptedMnemonic:   sealed.EncryptedMnemonic,
		Status:              types.WalletStatusActive,
	}
}

func TestSealUnsealRoundTrip(t *testing.T) {
	password := []byte("vault-password")
	generated, wallet := sealTestWallet(t, password)

	key, err := UnsealForSigning(wallet, password)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.FromECDSA(generated.PrivateKey), ethcrypto.FromECDSA(key))

	mnemonic, err := UnsealMnemonic(wallet, password)
	require.NoError(t, err)
	assert.Equal(t, generated.Mnemonic, mnemonic)
}

func TestSealedBlobsShareSalt(t *testing.T) {
	_, wallet := sealTestWallet(t, []byte("pw"))

	assert.NotEmpty(t, wallet.EncryptedPrivateKey.Salt)
	assert.Equal(t, wallet.EncryptedPrivateKey.Salt, wallet.EncryptedMnemonic.Salt)
}

func TestUnsealWrongPassword(t *testing.T) {
	_, wallet := sealTestWallet(t, []byte("right password"))

	_, err := UnsealForSigning(wallet, []byte("wrong password"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDecryption))

	_, err = UnsealMnemonic(wallet, []byte("wrong password"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDecryption))
}

func TestUnsealMissingSalt(t *testing.T) {
	_, wallet := sealTestWallet(t, []byte("pw"))
	wallet.EncryptedPrivateKey.Salt = ""

	_, err := UnsealForSigning(wallet, []byte("pw"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDecryption))
}

func TestShardAndRecoverMnemonic(t *testing.T) {
	generated, _ := sealTestWallet(t, []byte("pw"))

	shards, err := ShardMnemonic(generated.Mnemonic, 5, 3)
	require.NoError(t, err)
	require.Len(t, shards, 5)

	// Any 3 shards recover the mnemonic and from it the exact key.
	recovered, err := RecoverMnemonic([][]byte{shards[4], shards[0], shards[2]})
	require.NoError(t, err)
	assert.Equal(t, generated.Mnemonic, recovered)

	key, err := RecoverKey(recovered)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.FromECDSA(generated.PrivateKey), ethcrypto.FromECDSA(key))

	// Two shards are not enough.
	_, err = RecoverMnemonic(shards[:2])
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInsufficientShards))
}

func TestShardEmptyMnemonic(t *testing.T) {
	_, err := ShardMnemonic("", 3, 2)
	require.Error(t, err)
}
