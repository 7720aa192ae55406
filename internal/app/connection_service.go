package app

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wallet-relay/wallet-relay/internal/auth"
	"github.com/wallet-relay/wallet-relay/internal/logger"
	"github.com/wallet-relay/wallet-relay/internal/storage"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// accessTokenTTL bounds the browser-session token issued at connect time.
const accessTokenTTL = time.Hour

// ConnectionService establishes and resolves the scoped pairing between a
// user's wallet and an external DApp.
type ConnectionService struct {
	wallets     storage.WalletStore
	connections storage.ConnectionStore
	relay       storage.RelayTransactionStore
	audit       storage.AuditStore
	tokens      *auth.TokenIssuer

	idgen func() uuid.UUID
	now   func() time.Time
}

// NewConnectionService creates a ConnectionService.
func NewConnectionService(store *storage.Store, tokens *auth.TokenIssuer) *ConnectionService {
	return &ConnectionService{
		wallets:     store.Wallets,
		connections: store.Connections,
		relay:       store.Relay,
		audit:       store.Audit,
		tokens:      tokens,
		idgen:       uuid.New,
		now:         time.Now,
	}
}

// ConnectRequest is the owner-authenticated input to Connect.
type ConnectRequest struct {
	UserID      string
	WalletID    uuid.UUID
	DApp        types.DAppInfo
	Permissions types.Permissions
}

// ConnectResult carries the connection, a session-scoped access token, and
// whether the connection was newly created.
type ConnectResult struct {
	Connection  *types.RelayConnection `json:"connection"`
	AccessToken string                 `json:"accessToken"`
	IsNew       bool                   `json:"isNew"`
}

// Connect pairs the user's wallet with a DApp. One active connection
// exists per (user, dapp domain): reconnecting updates the grant in place
// and keeps the existing connectionKey.
func (s *ConnectionService) Connect(ctx context.Context, req *ConnectRequest) (*ConnectResult, error) {
	if req.DApp.Domain == "" {
		return nil, apperrors.Validation("dapp domain is required")
	}
	req.DApp.Domain = strings.ToLower(req.DApp.Domain)

	wallet, err := s.wallets.GetByID(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, apperrors.WalletNotFound(req.WalletID.String())
	}
	if wallet.OwnerID != req.UserID {
		return nil, apperrors.ErrOwnership
	}

	existing, err := s.connections.GetActiveByUserAndDomain(ctx, req.UserID, req.DApp.Domain)
	if err != nil {
		return nil, err
	}

	var conn *types.RelayConnection
	isNew := existing == nil

	if existing != nil {
		existing.DApp = req.DApp
		existing.Permissions = req.Permissions
		existing.UpdatedAt = s.now()
		if err := s.connections.Update(ctx, existing); err != nil {
			return nil, err
		}
		conn = existing
	} else {
		connectionKey, err := auth.NewConnectionKey()
		if err != nil {
			return nil, err
		}

		now := s.now()
		conn = &types.RelayConnection{
			ID:            s.idgen(),
			ConnectionKey: connectionKey,
			UserID:        req.UserID,
			WalletID:      req.WalletID,
			DApp:          req.DApp,
			Permissions:   req.Permissions,
			Status:        types.ConnectionStatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.connections.Create(ctx, conn); err != nil {
			return nil, err
		}
	}

	accessToken, err := s.tokens.Issue(req.UserID, conn.ID.String(), accessTokenTTL)
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, req.UserID, "relay.connect", conn.ID.String(), conn.DApp.Domain)
	logger.Info(ctx, "relay connection established",
		"connection_id", conn.ID, "domain", conn.DApp.Domain, "is_new", isNew)

	return &ConnectResult{
		Connection:  conn,
		AccessToken: accessToken,
		IsNew:       isNew,
	}, nil
}

// Resolve looks up the connection for a DApp-presented connectionKey. The
// caller's Origin (or Referer) must resolve to the connected DApp's
// domain; a key leaked to one site cannot be replayed from another.
func (s *ConnectionService) Resolve(ctx context.Context, connectionKey, origin string) (*types.RelayConnection, error) {
	if connectionKey == "" {
		return nil, apperrors.Validation("connectionKey is required")
	}

	conn, err := s.connections.GetByKey(ctx, connectionKey)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, apperrors.ErrNotFound
	}
	if conn.Status == types.ConnectionStatusRevoked {
		return nil, apperrors.ErrRevoked
	}
	if !domainMatches(origin, conn.DApp.Domain) {
		return nil, apperrors.ErrDomainMismatch
	}
	return conn, nil
}

// Revoke deactivates a connection and cascades: every pending relay
// transaction on it transitions to rejected. Idempotent.
func (s *ConnectionService) Revoke(ctx context.Context, connectionID uuid.UUID, userID string) error {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return apperrors.ErrNotFound
	}
	if conn.UserID != userID {
		return apperrors.ErrOwnership
	}

	now := s.now()
	if err := s.connections.SetRevoked(ctx, connectionID, now); err != nil {
		return err
	}

	cascaded, err := s.relay.RejectPendingByConnection(ctx, connectionID, "connection revoked", now)
	if err != nil {
		return err
	}

	s.appendAudit(ctx, userID, "relay.revoke", connectionID.String(), conn.DApp.Domain)
	logger.Info(ctx, "relay connection revoked",
		"connection_id", connectionID, "cascaded_rejections", cascaded)
	return nil
}

// List returns the user's connections, active and revoked.
func (s *ConnectionService) List(ctx context.Context, userID string) ([]*types.RelayConnection, error) {
	return s.connections.ListByUser(ctx, userID)
}

// GetOwned returns a connection after checking ownership.
func (s *ConnectionService) GetOwned(ctx context.Context, connectionID uuid.UUID, userID string) (*types.RelayConnection, error) {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, apperrors.ErrNotFound
	}
	if conn.UserID != userID {
		return nil, apperrors.ErrOwnership
	}
	return conn, nil
}

func (s *ConnectionService) appendAudit(ctx context.Context, actor, action, resourceID, result string) {
	entry := &types.AuditLog{
		ID:           s.idgen(),
		Actor:        actor,
		Action:       action,
		ResourceType: "relay_connection",
		ResourceID:   resourceID,
		Result:       result,
		CreatedAt:    s.now(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		logger.Warn(ctx, "failed to append audit log", "action", action, "error", err)
	}
}

// domainMatches compares a request Origin/Referer against the connected
// DApp domain, ignoring scheme, port, and case.
func domainMatches(origin, domain string) bool {
	if origin == "" || domain == "" {
		return false
	}

	host := origin
	if strings.Contains(origin, "://") {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host = u.Hostname()
	} else if h, _, err := net.SplitHostPort(origin); err == nil {
		host = h
	}

	return strings.EqualFold(host, domain)
}
