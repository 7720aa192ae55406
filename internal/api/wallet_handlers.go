package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// WalletResponse is the owner-facing wallet view. Encrypted key material
// never leaves the service.
type WalletResponse struct {
	ID        uuid.UUID `json:"id"`
	Address   string    `json:"address"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func walletResponse(w *types.Wallet) *WalletResponse {
	return &WalletResponse{
		ID:        w.ID,
		Address:   w.Address,
		Status:    w.Status,
		CreatedAt: w.CreatedAt,
	}
}

// handleWallets handles wallet creation and retrieval for the owner.
func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateWallet(w, r)
	case http.MethodGet:
		s.handleGetWallet(w, r)
	default:
		s.writeError(w, apperrors.New(
			apperrors.ErrCodeValidation,
			"Method not allowed",
			http.StatusMethodNotAllowed,
		))
	}
}

// handleCreateWallet is idempotent: a second create returns the owner's
// existing active wallet.
func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	wallet, err := s.custody.CreateWalletForUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, walletResponse(wallet))
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	wallet, err := s.custody.GetWalletForUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if wallet == nil {
		s.writeError(w, apperrors.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, walletResponse(wallet))
}

// handleWalletOperations routes /wallets/{id}/... operations.
func (s *Server) handleWalletOperations(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/wallets/"), "/")
	if len(pathParts) < 1 || pathParts[0] == "" {
		s.writeError(w, apperrors.ErrNotFound)
		return
	}

	walletID, err := uuid.Parse(pathParts[0])
	if err != nil {
		s.writeError(w, apperrors.Validation("invalid wallet ID"))
		return
	}

	if len(pathParts) == 2 && pathParts[1] == "freeze" && r.Method == http.MethodPost {
		s.handleFreezeWallet(w, r, walletID)
		return
	}

	s.writeError(w, apperrors.ErrNotFound)
}

func (s *Server) handleFreezeWallet(w http.ResponseWriter, r *http.Request, walletID uuid.UUID) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	if err := s.custody.FreezeWallet(r.Context(), userID, walletID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"id":     walletID.String(),
		"status": types.WalletStatusFrozen,
	})
}
