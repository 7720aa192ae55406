package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/wallet-relay/wallet-relay/internal/app"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// ConnectRequestBody is the owner's connect payload.
type ConnectRequestBody struct {
	ConnectionData struct {
		WalletID    uuid.UUID         `json:"walletId"`
		DApp        types.DAppInfo    `json:"dapp"`
		Permissions types.Permissions `json:"permissions"`
	} `json:"connectionData"`
}

// handleConnections handles connection establishment and listing.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleConnect(w, r)
	case http.MethodGet:
		s.handleListConnections(w, r)
	default:
		s.writeError(w, apperrors.New(
			apperrors.ErrCodeValidation,
			"Method not allowed",
			http.StatusMethodNotAllowed,
		))
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var body ConnectRequestBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.ConnectionData.WalletID == uuid.Nil {
		s.writeError(w, apperrors.Validation("connectionData.walletId is required"))
		return
	}

	result, err := s.connections.Connect(r.Context(), &app.ConnectRequest{
		UserID:      userID,
		WalletID:    body.ConnectionData.WalletID,
		DApp:        body.ConnectionData.DApp,
		Permissions: body.ConnectionData.Permissions,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	conns, err := s.connections.List(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"connections": conns})
}

// handleConnectionOperations routes /relay/connections/{id}/... operations.
func (s *Server) handleConnectionOperations(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/relay/connections/"), "/")
	if len(pathParts) < 1 || pathParts[0] == "" {
		s.writeError(w, apperrors.ErrNotFound)
		return
	}

	connectionID, err := uuid.Parse(pathParts[0])
	if err != nil {
		s.writeError(w, apperrors.Validation("invalid connection ID"))
		return
	}

	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	switch {
	case len(pathParts) == 1 && r.Method == http.MethodGet:
		conn, err := s.connections.GetOwned(r.Context(), connectionID, userID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, conn)

	case len(pathParts) == 2 && pathParts[1] == "revoke" && r.Method == http.MethodPost:
		if err := s.connections.Revoke(r.Context(), connectionID, userID); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{
			"id":     connectionID.String(),
			"status": types.ConnectionStatusRevoked,
		})

	default:
		s.writeError(w, apperrors.ErrNotFound)
	}
}
