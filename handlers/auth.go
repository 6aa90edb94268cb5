package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/serisow/docstore/rag_type"
)

// Authenticator validates the caller's credentials and returns the refreshed
// tokens to hand back in the response. Token issuance lives outside this
// service.
type Authenticator interface {
	Authenticate(r *http.Request) (*rag_type.AuthRefresh, error)
}

// AccountReader looks up the account a request targets.
type AccountReader interface {
	Account(ctx context.Context, accountID int64) (*rag_type.Account, error)
}

// HeaderAuthenticator trusts the identity forwarded by the gateway in
// X-User-ID and echoes the bearer and refresh tokens unchanged.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (*rag_type.AuthRefresh, error) {
	userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: missing or invalid X-User-ID", rag_type.ErrUnauthorized)
	}
	return &rag_type.AuthRefresh{
		AccessToken:  strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		RefreshToken: r.Header.Get("X-Refresh-Token"),
		UserID:       userID,
	}, nil
}

// authorizeAccount authenticates the request and checks that the caller owns
// the account.
func authorizeAccount(r *http.Request, auth Authenticator, accounts AccountReader, accountID int64) (*rag_type.AuthRefresh, error) {
	tokens, err := auth.Authenticate(r)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(r.Context(), tokens, accounts, accountID); err != nil {
		return nil, err
	}
	return tokens, nil
}

func checkOwner(ctx context.Context, tokens *rag_type.AuthRefresh, accounts AccountReader, accountID int64) error {
	account, err := accounts.Account(ctx, accountID)
	if err != nil {
		return err
	}
	if account.OwnerID != tokens.UserID {
		return fmt.Errorf("%w: account %d belongs to another user", rag_type.ErrUnauthorized, accountID)
	}
	return nil
}
