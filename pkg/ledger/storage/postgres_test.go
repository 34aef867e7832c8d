package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/nemonet1337/zaikoLedger/pkg/ledger"
)

// TestMapPQError はPostgreSQLエラーコードの対応付けのテスト
func TestMapPQError(t *testing.T) {
	// lock_timeout到達は再試行可能な競合になる
	lockErr := &pq.Error{Code: "55P03"}
	assert.ErrorIs(t, mapPQError(lockErr, "取得に失敗しました"), ledger.ErrConflict)
	assert.ErrorIs(t, mapPQError(fmt.Errorf("wrapped: %w", lockErr), "取得に失敗しました"), ledger.ErrConflict)

	// デッドロック・直列化失敗も同様
	assert.ErrorIs(t, mapPQError(&pq.Error{Code: "40P01"}, ""), ledger.ErrConflict)
	assert.ErrorIs(t, mapPQError(&pq.Error{Code: "40001"}, ""), ledger.ErrConflict)

	// 参照番号の一意制約違反は重複参照
	refErr := &pq.Error{Code: "23505", Constraint: "stock_movements_reference_number_key"}
	assert.ErrorIs(t, mapPQError(refErr, ""), ledger.ErrDuplicateReference)

	// その他の一意制約違反は競合
	assert.ErrorIs(t, mapPQError(&pq.Error{Code: "23505"}, ""), ledger.ErrConflict)

	// 対応付けのないエラーはメッセージ付きでラップされる
	plain := errors.New("boom")
	mapped := mapPQError(plain, "保存に失敗しました")
	assert.ErrorIs(t, mapped, plain)
	assert.Contains(t, mapped.Error(), "保存に失敗しました")
}
