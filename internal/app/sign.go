package app

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

const (
	defaultChainID      = int64(1)
	defaultGasLimit     = uint64(21000)
	defaultGasPriceGwei = float64(1)
)

// signPayload dispatches one signing request to the scheme its request
// type demands.
func signPayload(privateKey *ecdsa.PrivateKey, requestType string, data types.RequestData) (string, error) {
	switch requestType {
	case types.RequestTypeSignMessage, types.RequestTypePersonalSign:
		return signPersonal(privateKey, messageBytes(data.Message))
	case types.RequestTypeSignTypedData:
		return signTypedData(privateKey, data.TypedData)
	case types.RequestTypeSignTransaction:
		return signTransaction(privateKey, data)
	default:
		return "", apperrors.Validation(fmt.Sprintf("unsupported request type: %s", requestType))
	}
}

func messageBytes(message string) []byte {
	if strings.HasPrefix(message, "0x") {
		return common.FromHex(message)
	}
	return []byte(message)
}

// signPersonal signs per EIP-191: the message is prefixed with
// "\x19Ethereum Signed Message:\n" + length before hashing.
func signPersonal(privateKey *ecdsa.PrivateKey, message []byte) (string, error) {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	hash := ethcrypto.Keccak256(append([]byte(prefix), message...))

	sig, err := ethcrypto.Sign(hash, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}

	// Recovery id to Ethereum's 27/28 convention.
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// signTypedData signs EIP-712 typed data.
func signTypedData(privateKey *ecdsa.PrivateKey, raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", apperrors.Validation("typedData is required for signTypedData requests")
	}

	var typedData apitypes.TypedData
	if err := json.Unmarshal(raw, &typedData); err != nil {
		return "", apperrors.Validation("malformed typed data payload")
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", apperrors.Validation("invalid typed data structure")
	}

	sig, err := ethcrypto.Sign(hash, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign typed data: %w", err)
	}

	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// signTransaction builds a transaction from the request fields, signs it
// with the chain's signer, and returns the raw RLP-encoded signed
// transaction ready for broadcast by the DApp.
func signTransaction(privateKey *ecdsa.PrivateKey, data types.RequestData) (string, error) {
	calldata := common.FromHex(data.Data)
	if data.To == "" && len(calldata) == 0 {
		return "", apperrors.Validation("transaction requires a destination address or calldata")
	}

	var to *common.Address
	if data.To != "" {
		if !common.IsHexAddress(data.To) {
			return "", apperrors.Validation("invalid destination address")
		}
		addr := common.HexToAddress(data.To)
		to = &addr
	}

	chainID := data.ChainID
	if chainID == 0 {
		chainID = defaultChainID
	}

	var nonce uint64
	if data.Nonce != nil {
		nonce = *data.Nonce
	}

	gasLimit := defaultGasLimit
	if data.GasLimit != nil {
		gasLimit = *data.GasLimit
	}

	gasPriceGwei := defaultGasPriceGwei
	if data.GasPriceGwei != nil {
		gasPriceGwei = *data.GasPriceGwei
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gweiToWei(gasPriceGwei),
		Gas:      gasLimit,
		To:       to,
		Value:    nativeToWei(data.Value),
		Data:     calldata,
	})

	signer := ethtypes.LatestSignerForChainID(big.NewInt(chainID))
	signed, err := ethtypes.SignTx(tx, signer, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode signed transaction: %w", err)
	}
	return hexutil.Encode(raw), nil
}

// nativeToWei converts a native-unit amount to wei.
func nativeToWei(value float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(value), big.NewFloat(1e18)).Int(nil)
	return wei
}

func gweiToWei(gwei float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9)).Int(nil)
	return wei
}
