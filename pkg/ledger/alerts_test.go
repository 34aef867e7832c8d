package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaikoLedger/pkg/ledger"
	"github.com/nemonet1337/zaikoLedger/pkg/ledger/storage"
)

// newAlertedService はアラートエンジン付きのサービスを作成
func newAlertedService(t *testing.T) (*ledger.Service, *ledger.AlertEngine, *storage.MemoryStore) {
	t.Helper()

	service, store := newTestService(t)
	engine := ledger.NewAlertEngine(store, nil, zap.NewNop(), 3)
	service.SetEvaluator(engine)
	return service, engine, store
}

// findAlertsByType は指定タイプのアラートを抽出
func findAlertsByType(t *testing.T, engine *ledger.AlertEngine, alertType ledger.AlertType) []ledger.StockAlert {
	t.Helper()

	alerts, err := engine.ListAlerts(context.Background(), "")
	require.NoError(t, err)

	var matched []ledger.StockAlert
	for _, alert := range alerts {
		if alert.Type == alertType {
			matched = append(matched, alert)
		}
	}
	return matched
}

// TestAlertEngine_LowStock は低在庫アラートの発生と自動解決のテスト
func TestAlertEngine_LowStock(t *testing.T) {
	service, engine, _ := newAlertedService(t)
	ctx := context.Background()

	// 発注点10に対して残量8まで出庫する
	_, err := service.RecordMovement(ctx, inRequest("PROD-001", "WH-01", 100))
	require.NoError(t, err)
	_, err = service.RecordMovement(ctx, outRequest("PROD-001", "WH-01", 92))
	require.NoError(t, err)

	alerts := findAlertsByType(t, engine, ledger.AlertTypeLowStock)
	require.Len(t, alerts, 1)
	assert.Equal(t, ledger.AlertStatusActive, alerts[0].Status)
	assert.Equal(t, "8", alerts[0].CurrentQuantity.String())
	assert.Equal(t, "10", alerts[0].Threshold.String())

	// さらに出庫してもアラートは増えず、検出時数量だけ追随する
	_, err = service.RecordMovement(ctx, outRequest("PROD-001", "WH-01", 3))
	require.NoError(t, err)

	alerts = findAlertsByType(t, engine, ledger.AlertTypeLowStock)
	require.Len(t, alerts, 1)
	assert.Equal(t, "5", alerts[0].CurrentQuantity.String())

	// 発注点を上回るまで補充すると自動解決される
	_, err = service.RecordMovement(ctx, inRequest("PROD-001", "WH-01", 50))
	require.NoError(t, err)

	alerts = findAlertsByType(t, engine, ledger.AlertTypeLowStock)
	require.Len(t, alerts, 1)
	assert.Equal(t, ledger.AlertStatusResolved, alerts[0].Status)
	assert.NotNil(t, alerts[0].ResolvedAt)
}

// TestAlertEngine_OutOfStock は在庫切れアラートのテスト
func TestAlertEngine_OutOfStock(t *testing.T) {
	service, engine, _ := newAlertedService(t)
	ctx := context.Background()

	_, err := service.RecordMovement(ctx, inRequest("PROD-001", "WH-01", 20))
	require.NoError(t, err)
	_, err = service.RecordMovement(ctx, outRequest("PROD-001", "WH-01", 20))
	require.NoError(t, err)

	// 数量0は在庫切れであり、低在庫は発生しない
	outAlerts := findAlertsByType(t, engine, ledger.AlertTypeOutOfStock)
	require.Len(t, outAlerts, 1)
	assert.Equal(t, ledger.AlertStatusActive, outAlerts[0].Status)

	lowAlerts := findAlertsByType(t, engine, ledger.AlertTypeLowStock)
	for _, alert := range lowAlerts {
		assert.NotEqual(t, ledger.AlertStatusActive, alert.Status)
	}
}

// TestAlertEngine_AcknowledgedSuppressesReraise は確認済みアラートの再発生抑止のテスト
func TestAlertEngine_AcknowledgedSuppressesReraise(t *testing.T) {
	service, engine, _ := newAlertedService(t)
	ctx := context.Background()

	_, err := service.RecordMovement(ctx, inRequest("PROD-001", "WH-01", 15))
	require.NoError(t, err)
	_, err = service.RecordMovement(ctx, outRequest("PROD-001", "WH-01", 7))
	require.NoError(t, err)

	alerts := findAlertsByType(t, engine, ledger.AlertTypeLowStock)
	require.Len(t, alerts, 1)

	acked, err := engine.Acknowledge(ctx, alerts[0].ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, ledger.AlertStatusAcknowledged, acked.Status)
	assert.Equal(t, "manager", acked.AcknowledgedBy)
	assert.NotNil(t, acked.AcknowledgedAt)

	// 条件が継続しても確認済みアラートが抑止する
	_, err = service.RecordMovement(ctx, outRequest("PROD-001", "WH-01", 2))
	require.NoError(t, err)

	alerts = findAlertsByType(t, engine, ledger.AlertTypeLowStock)
	require.Len(t, alerts, 1)
	assert.Equal(t, ledger.AlertStatusAcknowledged, alerts[0].Status)
}

// TestAlertEngine_Acknowledge_NotActive は非アクティブアラートの確認拒否のテスト
func TestAlertEngine_Acknowledge_NotActive(t *testing.T) {
	service, engine, _ := newAlertedService(t)
	ctx := context.Background()

	_, err := service.RecordMovement(ctx, inRequest("PROD-001", "WH-01", 5))
	require.NoError(t, err)

	alerts := findAlertsByType(t, engine, ledger.AlertTypeLowStock)
	require.Len(t, alerts, 1)

	_, err = engine.Acknowledge(ctx, alerts[0].ID, "manager")
	require.NoError(t, err)

	// 確認済みアラートの再確認はビジネスルール違反
	_, err = engine.Acknowledge(ctx, alerts[0].ID, "manager")
	var berr *ledger.BusinessRuleError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "alert_not_active", berr.Rule)

	// 存在しないアラート
	_, err = engine.Acknowledge(ctx, "no-such-alert", "manager")
	assert.ErrorIs(t, err, ledger.ErrAlertNotFound)
}

// TestAlertEngine_Resolve は手動解決の冪等性のテスト
func TestAlertEngine_Resolve(t *testing.T) {
	service, engine, _ := newAlertedService(t)
	ctx := context.Background()

	_, err := service.RecordMovement(ctx, inRequest("PROD-001", "WH-01", 5))
	require.NoError(t, err)

	alerts := findAlertsByType(t, engine, ledger.AlertTypeLowStock)
	require.Len(t, alerts, 1)

	resolved, err := engine.Resolve(ctx, alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AlertStatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	// 解決済みへの再実行は何もしない
	again, err := engine.Resolve(ctx, alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AlertStatusResolved, again.Status)
}

// TestAlertEngine_Sweep_Expiry は期限系アラートのスイープ検出のテスト
func TestAlertEngine_Sweep_Expiry(t *testing.T) {
	service, engine, _ := newAlertedService(t)
	ctx := context.Background()
	now := time.Now()

	// 昨日期限切れになったバッチ
	expiredDate := now.AddDate(0, 0, -1)
	expiredReq := inRequest("PROD-001", "WH-01", 50)
	expiredReq.BatchNumber = "LOT-EXPIRED"
	expiredReq.ExpiryDate = &expiredDate
	_, err := service.RecordMovement(ctx, expiredReq)
	require.NoError(t, err)

	// 2日後に期限切れになるバッチ（ウィンドウ3日以内）
	soonDate := now.AddDate(0, 0, 2)
	soonReq := inRequest("PROD-001", "WH-01", 50)
	soonReq.BatchNumber = "LOT-SOON"
	soonReq.ExpiryDate = &soonDate
	_, err = service.RecordMovement(ctx, soonReq)
	require.NoError(t, err)

	// 30日後に期限切れになるバッチ（ウィンドウ外）
	farDate := now.AddDate(0, 0, 30)
	farReq := inRequest("PROD-001", "WH-01", 50)
	farReq.BatchNumber = "LOT-FAR"
	farReq.ExpiryDate = &farDate
	_, err = service.RecordMovement(ctx, farReq)
	require.NoError(t, err)

	require.NoError(t, engine.Sweep(ctx))

	expired := findAlertsByType(t, engine, ledger.AlertTypeExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, ledger.AlertStatusActive, expired[0].Status)

	soon := findAlertsByType(t, engine, ledger.AlertTypeExpiringSoon)
	require.Len(t, soon, 1)
	assert.Equal(t, ledger.AlertStatusActive, soon[0].Status)

	// 再スイープしても二重発生しない
	require.NoError(t, engine.Sweep(ctx))
	assert.Len(t, findAlertsByType(t, engine, ledger.AlertTypeExpired), 1)
	assert.Len(t, findAlertsByType(t, engine, ledger.AlertTypeExpiringSoon), 1)
}

// TestAlertEngine_ConcurrentEvaluation は移動後評価と定期スイープが同時に走っても
// オープンアラートが1件に保たれることのテスト
func TestAlertEngine_ConcurrentEvaluation(t *testing.T) {
	service, engine, _ := newAlertedService(t)
	ctx := context.Background()

	// 低在庫状態を作り、最初のアラートを解決して再発生の余地を残す
	_, err := service.RecordMovement(ctx, inRequest("PROD-001", "WH-01", 5))
	require.NoError(t, err)

	alerts := findAlertsByType(t, engine, ledger.AlertTypeLowStock)
	require.Len(t, alerts, 1)
	_, err = engine.Resolve(ctx, alerts[0].ID)
	require.NoError(t, err)

	// 同一記録への評価が並行しても check-then-create は交錯しない
	key := ledger.NewRecordKey("PROD-001", "WH-01", "")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, engine.EvaluateKey(ctx, key))
		}()
	}
	wg.Wait()

	var open int
	for _, alert := range findAlertsByType(t, engine, ledger.AlertTypeLowStock) {
		if alert.Status == ledger.AlertStatusActive || alert.Status == ledger.AlertStatusAcknowledged {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

// TestAlertEngine_Acknowledge_AfterResolve は解決とすれ違った確認が
// アラートを復活させないことのテスト
func TestAlertEngine_Acknowledge_AfterResolve(t *testing.T) {
	service, engine, store := newAlertedService(t)
	ctx := context.Background()

	_, err := service.RecordMovement(ctx, inRequest("PROD-001", "WH-01", 5))
	require.NoError(t, err)

	alerts := findAlertsByType(t, engine, ledger.AlertTypeLowStock)
	require.Len(t, alerts, 1)
	alertID := alerts[0].ID

	// 確認する側の読み取り後に自動解決が割り込んだ状況を再現する
	stale := alerts[0]
	_, err = engine.Resolve(ctx, alertID)
	require.NoError(t, err)

	stale.Status = ledger.AlertStatusAcknowledged
	err = store.UpdateAlert(ctx, &stale, ledger.AlertStatusActive)
	assert.ErrorIs(t, err, ledger.ErrConflict)

	// エンジン経由でも復活せず、ビジネスルール違反になる
	_, err = engine.Acknowledge(ctx, alertID, "manager")
	var berr *ledger.BusinessRuleError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "alert_not_active", berr.Rule)

	current, err := store.GetAlert(ctx, alertID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AlertStatusResolved, current.Status)
}
