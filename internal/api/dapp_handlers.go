package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wallet-relay/wallet-relay/internal/app"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// CreateTransactionBody is the DApp's signing request payload.
type CreateTransactionBody struct {
	ConnectionKey string            `json:"connectionKey"`
	RequestType   string            `json:"requestType"`
	RequestData   types.RequestData `json:"requestData"`
	Gasless       bool              `json:"gaslessTransaction,omitempty"`
}

// CreateTransactionResponse is the DApp's view of a freshly submitted
// request.
type CreateTransactionResponse struct {
	TransactionID uuid.UUID               `json:"transactionId"`
	Status        types.TransactionStatus `json:"status"`
	ExpiresAt     time.Time               `json:"expiresAt"`
	AutoApproved  bool                    `json:"autoApproved"`
	Signature     string                  `json:"signature,omitempty"`
}

// StatusResponse is the DApp's poll view. Rejected and expired requests
// report through this body, never through an error status.
type StatusResponse struct {
	TransactionID uuid.UUID               `json:"transactionId"`
	Status        types.TransactionStatus `json:"status"`
	Signature     string                  `json:"signature,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// CompleteBody reports the on-chain outcome after broadcast.
type CompleteBody struct {
	ConnectionKey string `json:"connectionKey"`
	TxHash        string `json:"txHash"`
	BlockNumber   int64  `json:"blockNumber"`
}

// FailBody reports a broadcast failure.
type FailBody struct {
	ConnectionKey string `json:"connectionKey"`
	Error         string `json:"error"`
	TxHash        string `json:"txHash,omitempty"`
}

// handleDAppTransactions accepts new signing requests from DApps.
func (s *Server) handleDAppTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, apperrors.New(
			apperrors.ErrCodeValidation,
			"Method not allowed",
			http.StatusMethodNotAllowed,
		))
		return
	}

	var body CreateTransactionBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	tx, err := s.relay.CreateRequest(r.Context(), &app.CreateRequestInput{
		ConnectionKey: body.ConnectionKey,
		Origin:        requestOrigin(r),
		RequestType:   body.RequestType,
		RequestData:   body.RequestData,
		Gasless:       body.Gasless,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, &CreateTransactionResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		ExpiresAt:     tx.ExpiresAt,
		AutoApproved:  tx.AutoApproved,
		Signature:     tx.Signature,
	})
}

// handleDAppTransactionOperations routes
// /relay/dapp/transactions/{id}/status|complete|fail.
func (s *Server) handleDAppTransactionOperations(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/relay/dapp/transactions/"), "/")
	if len(pathParts) != 2 || pathParts[0] == "" {
		s.writeError(w, apperrors.ErrNotFound)
		return
	}

	txID, err := uuid.Parse(pathParts[0])
	if err != nil {
		s.writeError(w, apperrors.Validation("invalid transaction ID"))
		return
	}

	switch {
	case pathParts[1] == "status" && r.Method == http.MethodGet:
		s.handleDAppStatus(w, r, txID)
	case pathParts[1] == "complete" && r.Method == http.MethodPost:
		s.handleDAppComplete(w, r, txID)
	case pathParts[1] == "fail" && r.Method == http.MethodPost:
		s.handleDAppFail(w, r, txID)
	default:
		s.writeError(w, apperrors.ErrNotFound)
	}
}

// connectionKeyFromRequest reads the key from the X-Connection-Key header
// or the connectionKey query parameter.
func connectionKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-Connection-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("connectionKey")
}

func (s *Server) handleDAppStatus(w http.ResponseWriter, r *http.Request, txID uuid.UUID) {
	tx, err := s.relay.CheckStatus(r.Context(), txID, connectionKeyFromRequest(r), requestOrigin(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, &StatusResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Signature:     tx.Signature,
		Error:         tx.Error,
	})
}

func (s *Server) handleDAppComplete(w http.ResponseWriter, r *http.Request, txID uuid.UUID) {
	var body CompleteBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	key := body.ConnectionKey
	if key == "" {
		key = connectionKeyFromRequest(r)
	}

	tx, err := s.relay.Complete(r.Context(), txID, key, requestOrigin(r), body.TxHash, body.BlockNumber)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, &StatusResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Signature:     tx.Signature,
	})
}

func (s *Server) handleDAppFail(w http.ResponseWriter, r *http.Request, txID uuid.UUID) {
	var body FailBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	key := body.ConnectionKey
	if key == "" {
		key = connectionKeyFromRequest(r)
	}

	tx, err := s.relay.Fail(r.Context(), txID, key, requestOrigin(r), body.Error, body.TxHash)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, &StatusResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Error:         tx.Error,
	})
}
