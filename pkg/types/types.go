package types

import (
	"time"

	"github.com/google/uuid"
)

// WalletStatus constants
const (
	WalletStatusActive = "active"
	WalletStatusFrozen = "frozen"
)

// EncryptedBlob is the stable at-rest format for any encrypted field.
// All byte fields are base64 encoded. Opaque to every caller except the
// crypto package.
type EncryptedBlob struct {
	Algorithm     string `json:"algorithm"`
	IV            string `json:"iv"`
	EncryptedData string `json:"encryptedData"`
	AuthTag       string `json:"authTag"`
	Salt          string `json:"salt,omitempty"`
}

// Wallet is a custodial wallet owned by exactly one platform user.
// Key material never leaves the two encrypted blobs except inside a
// short-lived signing call.
type Wallet struct {
	ID                  uuid.UUID     `json:"id"`
	OwnerID             string        `json:"ownerId"`
	Address             string        `json:"address"`
	EncryptedPrivateKey EncryptedBlob `json:"encryptedPrivateKey"`
	EncryptedMnemonic   EncryptedBlob `json:"encryptedMnemonic"`
	Status              string        `json:"status"`
	CreatedAt           time.Time     `json:"createdAt"`
}

// Frozen reports whether the wallet refuses signing operations.
func (w *Wallet) Frozen() bool {
	return w.Status == WalletStatusFrozen
}

// AuditLog records that a sensitive operation occurred. Payloads and key
// material are never stored here, only redacted summaries.
type AuditLog struct {
	ID           uuid.UUID `json:"id"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	Result       string    `json:"result"`
	CreatedAt    time.Time `json:"createdAt"`
}
