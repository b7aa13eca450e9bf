// Package mint issues the challenge token once a session reaches its repetition target.
package mint

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Defaults of the challenge token metadata
const (
	DefaultName   = "Squat Challenge NFT"
	DefaultSymbol = "SQUAT"
)

var (
	// ErrNotEligible is returned when repetition count is below target
	ErrNotEligible = errors.New("repetition target not reached")
	// ErrAlreadyMinted is returned when the session already issued its token
	ErrAlreadyMinted = errors.New("token already minted for this session")
	// ErrNoWallet is returned when no wallet address is connected
	ErrNoWallet = errors.New("wallet address required")
)

// Request describes one token issuance
type Request struct {
	SubjectID     string `json:"subjectId"`
	WalletAddress string `json:"walletAddress"`
	RepCount      int    `json:"repCount"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	URI           string `json:"uri,omitempty"`
}

// Minter issues a token and returns the transaction signature
type Minter interface {
	Mint(ctx context.Context, req Request) (string, error)
}

// Gate decides whether a session may mint
type Gate struct {
	Target int
}

// Check returns nil when count reaches target, nothing was minted yet and wallet is set.
// Already minted takes precedence over the other failures
func (gate Gate) Check(count int, alreadyMinted bool, wallet string) error {
	if alreadyMinted {
		return ErrAlreadyMinted
	}
	if count < gate.Target {
		return errors.Wrapf(ErrNotEligible, "%d of %d", count, gate.Target)
	}
	if strings.TrimSpace(wallet) == "" {
		return ErrNoWallet
	}
	return nil
}

// withDefaults fills empty metadata
func (req Request) withDefaults() Request {
	if req.Name == "" {
		req.Name = DefaultName
	}
	if req.Symbol == "" {
		req.Symbol = DefaultSymbol
	}
	return req
}
