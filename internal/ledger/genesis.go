package ledger

import (
	"context"
	"fmt"
	"sort"

	xerrors "SynapsePay/internal/errors"
)

// ApplyGenesis 为尚不存在的钱包入金并返回实际入金的钱包。已存在的账户视为
// 之前启动时已经入过金，重启不会重复发放。
func ApplyGenesis(ctx context.Context, l Ledger, genesis map[string]uint64) ([]string, error) {
	wallets := make([]string, 0, len(genesis))
	for wallet := range genesis {
		wallets = append(wallets, wallet)
	}
	sort.Strings(wallets)

	var applied []string
	for _, wallet := range wallets {
		amount := genesis[wallet]
		if amount == 0 {
			continue
		}
		_, err := l.Balance(ctx, wallet)
		if err == nil {
			continue
		}
		if xerrors.CodeOf(err) != CodeAccountNotFound {
			return applied, err
		}
		if err := l.Deposit(ctx, wallet, amount); err != nil {
			return applied, fmt.Errorf("创世入金 %s 失败: %w", wallet, err)
		}
		applied = append(applied, wallet)
	}
	return applied, nil
}
