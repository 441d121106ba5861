package provider

import (
	"context"
	"fmt"

	"github.com/finscope/txsync/pkg/repositories"
	"github.com/finscope/txsync/pkg/utils"
)

// TokenProvider resolves the bearer token authorizing a fetch for one
// provider-side account.
type TokenProvider interface {
	AccessToken(ctx context.Context, providerAccountID string) (string, error)
}

// ConsentTokenProvider resolves tokens from the owning user's active consent,
// decrypting the stored AES-256-GCM token.
type ConsentTokenProvider struct {
	accounts repositories.AccountRepository
	consents repositories.ConsentRepository
	aesKey   []byte
}

func NewConsentTokenProvider(accounts repositories.AccountRepository, consents repositories.ConsentRepository, aesKey []byte) *ConsentTokenProvider {
	return &ConsentTokenProvider{accounts: accounts, consents: consents, aesKey: aesKey}
}

func (p *ConsentTokenProvider) AccessToken(ctx context.Context, providerAccountID string) (string, error) {
	account, err := p.accounts.FindByProviderAccountId(ctx, providerAccountID)
	if err != nil {
		return "", fmt.Errorf("resolve account for provider id %s: %w", providerAccountID, err)
	}
	consent, err := p.consents.FindActiveByUserId(ctx, account.UserID)
	if err != nil {
		return "", err
	}
	token, err := utils.DecryptAES(consent.EncryptedToken, p.aesKey)
	if err != nil {
		return "", fmt.Errorf("decrypt consent token: %w", err)
	}
	return string(token), nil
}
