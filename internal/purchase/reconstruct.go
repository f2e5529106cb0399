package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

// Reconstruction is progress rebuilt from on-chain balances.
type Reconstruction struct {
	Count    int   `json:"count"`
	Required int   `json:"required"`
	Met      bool  `json:"met"`
	Checked  int   `json:"checked"`
	Failed   int   `json:"failed"`
	Err      error `json:"-"`
}

// Reconstruct counts queued token targets the wallet holds a non-zero
// balance of. Each token counts once. Read errors are collected in Err and
// never abort the scan; it stops early once required is reached.
func Reconstruct(
	ctx context.Context,
	balances BalanceReader,
	wallet string,
	records []domain.LinkRecord,
	required int,
) Reconstruction {
	result := Reconstruction{Required: required}
	if balances == nil || wallet == "" {
		return result
	}

	seen := make(map[string]struct{}, len(records))
	var errs []error
	for i := range records {
		token := records[i].Target.TokenAddress
		if token == "" {
			continue
		}
		key := strings.ToLower(token)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		result.Checked++
		balance, err := readBalance(ctx, balances, token, wallet)
		if err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("token %s: %w", token, err))
			continue
		}
		if balance.Sign() > 0 {
			result.Count++
			if required > 0 && result.Count >= required {
				break
			}
		}
	}

	result.Met = required > 0 && result.Count >= required
	result.Err = errors.Join(errs...)
	return result
}
