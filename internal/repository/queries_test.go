package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Нулевой лимит в Postgres вернул бы пустую выборку, а в памяти означает
// "без ограничения". Запросы со списками обязаны трактовать 0 так же.
func TestQueries_ZeroLimitIsUnbounded(t *testing.T) {
	queries := map[string]string{
		"ListActiveWalletIDs":    ListActiveWalletIDsQuery,
		"ListStaleTransactions":  ListStaleTransactionsQuery,
		"ListWalletTransactions": ListWalletTransactionsQuery,
	}
	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			assert.Contains(t, q, "LIMIT NULLIF(")
		})
	}
}
