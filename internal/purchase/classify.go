package purchase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jonesrussell/north-cloud/likechat/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

// Class groups purchase failures by how the user should proceed.
type Class string

const (
	ClassUserRejected      Class = "user_rejected"
	ClassInsufficientFunds Class = "insufficient_funds"
	ClassSlippage          Class = "slippage"
	ClassTransient         Class = "transient"
	ClassUnknown           Class = "unknown"
)

var (
	rejectedPatterns     = []string{"user rejected", "user denied", "rejected the request", "request rejected", "4001"}
	insufficientPatterns = []string{"insufficient funds", "insufficient balance", "exceeds balance", "not enough"}
	slippagePatterns     = []string{"slippage", "too little received", "insufficient_output_amount", "price impact"}
	transientPatterns    = []string{"execution reverted", "network", "nonce too low", "replacement transaction underpriced", "rate limit"}
)

// BalanceError reports the amounts behind an insufficient balance failure.
type BalanceError struct {
	Need *big.Int
	Have *big.Int
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %s, have %s", e.Need, e.Have)
}

func (e *BalanceError) Unwrap() error {
	return domain.ErrInsufficientFunds
}

// Classify maps a wallet or RPC error onto a Class. Sentinels win over
// message matching; unknown errors are retried like transient ones.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, domain.ErrUserRejected):
		return ClassUserRejected
	case errors.Is(err, domain.ErrInsufficientFunds):
		return ClassInsufficientFunds
	case errors.Is(err, domain.ErrSlippageExceeded):
		return ClassSlippage
	case errors.Is(err, domain.ErrTransient),
		errors.Is(err, domain.ErrUpstreamUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rejectedPatterns):
		return ClassUserRejected
	case containsAny(msg, insufficientPatterns):
		return ClassInsufficientFunds
	case containsAny(msg, slippagePatterns):
		return ClassSlippage
	case containsAny(msg, transientPatterns), retry.DefaultIsRetryable(err):
		return ClassTransient
	default:
		return ClassUnknown
	}
}

// Terminal reports whether the class must not be retried automatically.
func (c Class) Terminal() bool {
	switch c {
	case ClassUserRejected, ClassInsufficientFunds, ClassSlippage:
		return true
	default:
		return false
	}
}

// Err returns the domain sentinel for c.
func (c Class) Err() error {
	switch c {
	case ClassUserRejected:
		return domain.ErrUserRejected
	case ClassInsufficientFunds:
		return domain.ErrInsufficientFunds
	case ClassSlippage:
		return domain.ErrSlippageExceeded
	default:
		return domain.ErrTransient
	}
}

// Message is the user-facing text for c.
func (c Class) Message() string {
	switch c {
	case ClassUserRejected:
		return "Transaction cancelled in your wallet."
	case ClassInsufficientFunds:
		return "Insufficient balance to complete the purchase. Top up your wallet and try again."
	case ClassSlippage:
		return "Price moved beyond your slippage tolerance. Increase slippage or try a smaller amount."
	default:
		return "Network problem while confirming the purchase."
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
