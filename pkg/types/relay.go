package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RequestType constants for relay signing requests.
const (
	RequestTypeSignMessage     = "signMessage"
	RequestTypeSignTransaction = "signTransaction"
	RequestTypePersonalSign    = "personalSign"
	RequestTypeSignTypedData   = "signTypedData"
)

// ValidRequestType reports whether t names a supported request type.
func ValidRequestType(t string) bool {
	switch t {
	case RequestTypeSignMessage, RequestTypeSignTransaction,
		RequestTypePersonalSign, RequestTypeSignTypedData:
		return true
	}
	return false
}

// ConnectionStatus constants
const (
	ConnectionStatusActive  = "active"
	ConnectionStatusRevoked = "revoked"
)

// TransactionStatus is the relay transaction state machine status.
type TransactionStatus string

// Relay transaction states. pending -> {approved, rejected, expired};
// approved -> {completed, failed}. Everything except pending and approved
// is terminal.
const (
	StatusPending   TransactionStatus = "pending"
	StatusApproved  TransactionStatus = "approved"
	StatusRejected  TransactionStatus = "rejected"
	StatusExpired   TransactionStatus = "expired"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// DAppInfo identifies the external DApp side of a connection. Identity is
// the domain; name and logo are display metadata.
type DAppInfo struct {
	Name    string `json:"name"`
	Domain  string `json:"domain"`
	LogoURL string `json:"logoUrl,omitempty"`
}

// Permissions is the grant carried by a relay connection: what the DApp may
// ask for and under what auto-approval limits. Amounts are in native units.
type Permissions struct {
	ReadAddress       bool    `json:"readAddress"`
	ReadBalance       bool    `json:"readBalance"`
	RequestSignature  bool    `json:"requestSignature"`
	AutoSign          bool    `json:"autoSign"`
	AutoSignMaxAmount float64 `json:"autoSignMaxAmount"`
	UseGasless        bool    `json:"useGasless"`
}

// RelayConnection is a scoped pairing between a user's wallet and one DApp.
// The connectionKey is the capability token the DApp presents on every call.
type RelayConnection struct {
	ID            uuid.UUID   `json:"id"`
	ConnectionKey string      `json:"connectionKey"`
	UserID        string      `json:"userId"`
	WalletID      uuid.UUID   `json:"walletId"`
	DApp          DAppInfo    `json:"dapp"`
	Permissions   Permissions `json:"permissions"`
	Status        string      `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// RequestData is the payload of one signing request. Message carries
// signMessage/personalSign content; the transaction fields carry
// signTransaction content; TypedData carries raw EIP-712 input.
type RequestData struct {
	Message      string          `json:"message,omitempty"`
	To           string          `json:"to,omitempty"`
	Value        float64         `json:"value,omitempty"`
	Data         string          `json:"data,omitempty"`
	ChainID      int64           `json:"chainId,omitempty"`
	Nonce        *uint64         `json:"nonce,omitempty"`
	GasLimit     *uint64         `json:"gasLimit,omitempty"`
	GasPriceGwei *float64        `json:"gasPriceGwei,omitempty"`
	TypedData    json.RawMessage `json:"typedData,omitempty"`
}

// RiskFactor is one heuristic that contributed to a risk score.
type RiskFactor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// BlockchainRef records the on-chain outcome reported by the DApp after
// broadcast.
type BlockchainRef struct {
	TxHash        string `json:"txHash,omitempty"`
	BlockNumber   int64  `json:"blockNumber,omitempty"`
	Confirmations int    `json:"confirmations"`
}

// RelayTransaction is the unit of work for one signature request.
type RelayTransaction struct {
	ID           uuid.UUID         `json:"transactionId"`
	ConnectionID uuid.UUID         `json:"connectionId"`
	UserID       string            `json:"userId"`
	WalletID     uuid.UUID         `json:"walletId"`
	RequestType  string            `json:"requestType"`
	RequestData  RequestData       `json:"requestData"`
	Status       TransactionStatus `json:"status"`
	Signature    string            `json:"signature,omitempty"`
	Error        string            `json:"error,omitempty"`
	RiskScore    int               `json:"riskScore"`
	RiskFactors  []RiskFactor      `json:"riskFactors,omitempty"`
	AutoApproved bool              `json:"autoApproved"`
	Gasless      bool              `json:"gaslessTransaction"`
	RequestedAt  time.Time         `json:"requestedAt"`
	ExpiresAt    time.Time         `json:"expiresAt"`
	RespondedAt  *time.Time        `json:"respondedAt,omitempty"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	Blockchain   BlockchainRef     `json:"blockchain"`
}
