package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// RespondResponse is returned from approve/reject.
type RespondResponse struct {
	TransactionID uuid.UUID               `json:"transactionId"`
	Status        types.TransactionStatus `json:"status"`
	Signature     string                  `json:"signature,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

func respondResponse(tx *types.RelayTransaction) *RespondResponse {
	return &RespondResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Signature:     tx.Signature,
		Error:         tx.Error,
	}
}

// RejectRequestBody carries the optional rejection reason.
type RejectRequestBody struct {
	Reason string `json:"reason,omitempty"`
}

// handleTransactionOperations routes owner-authenticated
// /relay/transactions/{id}[/approve|/reject] operations.
func (s *Server) handleTransactionOperations(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/relay/transactions/"), "/")
	if len(pathParts) < 1 || pathParts[0] == "" {
		s.writeError(w, apperrors.ErrNotFound)
		return
	}

	txID, err := uuid.Parse(pathParts[0])
	if err != nil {
		s.writeError(w, apperrors.Validation("invalid transaction ID"))
		return
	}

	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	switch {
	case len(pathParts) == 1 && r.Method == http.MethodGet:
		tx, err := s.relay.Get(r.Context(), txID, userID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tx)

	case len(pathParts) == 2 && pathParts[1] == "approve" && r.Method == http.MethodPost:
		tx, err := s.relay.Approve(r.Context(), txID, userID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, respondResponse(tx))

	case len(pathParts) == 2 && pathParts[1] == "reject" && r.Method == http.MethodPost:
		var body RejectRequestBody
		if r.ContentLength > 0 {
			if err := decodeBody(r, &body); err != nil {
				s.writeError(w, err)
				return
			}
		}
		tx, err := s.relay.Reject(r.Context(), txID, userID, body.Reason)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, respondResponse(tx))

	default:
		s.writeError(w, apperrors.ErrNotFound)
	}
}
