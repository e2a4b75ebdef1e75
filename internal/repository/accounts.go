// internal/repository/accounts.go
package repository

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/pkg/errors"
)

// AccountClient creates key-identity accounts.
type AccountClient struct {
	c *client
}

func NewAccountClient(cfg ClientConfig) (*AccountClient, error) {
	c, err := newClient("accounts", cfg)
	if err != nil {
		return nil, err
	}
	return &AccountClient{c: c}, nil
}

func (a *AccountClient) CreateAccount(ctx context.Context, opts auth.CreateOptions) (*auth.CreatedAccount, error) {
	var created auth.CreatedAccount
	// Account creation is not idempotent upstream; a retry could mint a
	// second identity.
	err := withRetry(ctx, "accounts create", 1, func() error {
		return a.c.once(ctx, request{
			op:     "create",
			method: http.MethodPost,
			path:   "/accounts",
			body:   opts,
		}, &created)
	})
	if err != nil {
		return nil, err
	}
	if created.KeyID == "" {
		return nil, errors.NewInternalError()
	}
	a.c.logger.Info("account created",
		zap.String("key", created.KeyID.Short()),
		zap.Bool("wallet", opts.CreateWallet),
		zap.String("template", opts.ProfileTemplate))
	return &created, nil
}
