package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AlertEngine derives stock alerts from the current-state inventory table.
// Alerts are never raised twice for the same condition: an open alert
// (active or acknowledged) suppresses re-raising, and conditions that no
// longer hold resolve their open alert.
// 現在庫テーブルから在庫アラートを導出する。同一条件でアラートが二重に
// 発生することはない：オープンなアラート（アクティブまたは確認済み）が
// 再発生を抑止し、条件が成立しなくなればオープンなアラートを解決する
type AlertEngine struct {
	storage    Storage        // ストレージ層
	publisher  EventPublisher // イベント発行者（任意）
	logger     *zap.Logger    // ログ
	windowDays int            // 期限切れ警告ウィンドウ（日数）
	clock      func() time.Time

	// 評価は在庫記録ごとに直列化する。移動後の評価と定期スイープが
	// 同じ記録に対して同時に走っても、check-then-createが交錯しない
	mu        sync.Mutex
	evalLocks map[string]*sync.Mutex
}

// インターフェース実装の確認
var _ AlertManager = (*AlertEngine)(nil)
var _ RecordEvaluator = (*AlertEngine)(nil)

// NewAlertEngine creates a new alert engine
// 新しいアラートエンジンを作成
func NewAlertEngine(storage Storage, publisher EventPublisher, logger *zap.Logger, windowDays int) *AlertEngine {
	if windowDays <= 0 {
		windowDays = 3
	}
	return &AlertEngine{
		storage:    storage,
		publisher:  publisher,
		logger:     logger,
		windowDays: windowDays,
		clock:      time.Now,
		evalLocks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the evaluation mutex for one inventory record, lazily created
// 在庫記録ごとの評価ミューテックスを返す（遅延作成）
func (e *AlertEngine) lockFor(inventoryID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.evalLocks[inventoryID]
	if !ok {
		lock = &sync.Mutex{}
		e.evalLocks[inventoryID] = lock
	}
	return lock
}

// alertCondition is one evaluated alert rule for a record
// 1つの在庫記録に対する評価済みアラートルール
type alertCondition struct {
	alertType AlertType
	active    bool
	message   string
	threshold decimal.Decimal
}

// EvaluateKey re-evaluates all alert conditions for one inventory key
// 1つの在庫キーのすべてのアラート条件を再評価
func (e *AlertEngine) EvaluateKey(ctx context.Context, key RecordKey) error {
	record, err := e.storage.FetchRecord(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return NewStorageError("fetch_record", "在庫記録の取得に失敗しました", err)
	}

	product, err := e.storage.GetProduct(ctx, key.ProductID)
	if err != nil {
		return NewStorageError("get_product", "商品取得に失敗しました", err)
	}

	return e.evaluateRecord(ctx, record, product)
}

// evaluateRecord opens and resolves alerts to match the record's current state.
// Evaluations for the same record are serialized.
// 在庫記録の現在の状態にあわせてアラートを開閉する。
// 同一記録に対する評価は直列化される
func (e *AlertEngine) evaluateRecord(ctx context.Context, record *InventoryRecord, product *Product) error {
	lock := e.lockFor(record.ID)
	lock.Lock()
	defer lock.Unlock()

	now := e.clock()

	outOfStock := record.Quantity.Sign() == 0
	lowStock := !outOfStock && record.IsLowStock(product)
	expired := record.IsExpired(now)
	expiringSoon := !expired && record.IsExpiringSoon(now, e.windowDays)

	days, _ := record.DaysUntilExpiry(now)

	conditions := []alertCondition{
		{
			alertType: AlertTypeOutOfStock,
			active:    outOfStock,
			message:   fmt.Sprintf("商品「%s」の在庫がありません（倉庫: %s）", product.Name, record.Key.WarehouseID),
			threshold: decimal.Zero,
		},
		{
			alertType: AlertTypeLowStock,
			active:    lowStock,
			message: fmt.Sprintf("商品「%s」の在庫が発注点を下回りました（現在: %s %s、発注点: %s）",
				product.Name, record.Quantity.String(), product.Unit, product.ReorderLevel.String()),
			threshold: product.ReorderLevel,
		},
		{
			alertType: AlertTypeExpired,
			active:    expired,
			message: fmt.Sprintf("商品「%s」のバッチ %s は期限切れです（数量: %s %s）",
				product.Name, record.Key.BatchNumber, record.Quantity.String(), product.Unit),
			threshold: decimal.Zero,
		},
		{
			alertType: AlertTypeExpiringSoon,
			active:    expiringSoon,
			message: fmt.Sprintf("商品「%s」のバッチ %s は %d 日後に期限切れになります",
				product.Name, record.Key.BatchNumber, days),
			threshold: decimal.NewFromInt(int64(e.windowDays)),
		},
	}

	for _, cond := range conditions {
		var err error
		if cond.active {
			err = e.ensureOpen(ctx, record, cond, now)
		} else {
			err = e.resolveOpen(ctx, record.ID, cond.alertType, now)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ensureOpen raises an alert unless one is already open for the same condition
// 同一条件のオープンなアラートがなければ新規に発生させる
func (e *AlertEngine) ensureOpen(ctx context.Context, record *InventoryRecord, cond alertCondition, now time.Time) error {
	existing, err := e.storage.FindOpenAlert(ctx, record.ID, cond.alertType)
	if err != nil && !errors.Is(err, ErrAlertNotFound) {
		return NewStorageError("find_open_alert", "アラート検索に失敗しました", err)
	}
	if existing != nil {
		// 既存のオープンなアラートは検出時数量だけ追随させる。
		// 並行した確認・解決に敗れた場合は次の評価に任せる
		if !existing.CurrentQuantity.Equal(record.Quantity) {
			snapshot := existing.Status
			existing.CurrentQuantity = record.Quantity
			existing.UpdatedAt = now
			err := e.storage.UpdateAlert(ctx, existing, snapshot)
			if err != nil && !errors.Is(err, ErrConflict) {
				return NewStorageError("update_alert", "アラート更新に失敗しました", err)
			}
		}
		return nil
	}

	alert := &StockAlert{
		ID:              NewAlertID(),
		InventoryID:     record.ID,
		Type:            cond.alertType,
		Status:          AlertStatusActive,
		Message:         cond.message,
		CurrentQuantity: record.Quantity,
		Threshold:       cond.threshold,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.storage.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, ErrDuplicateAlert) {
			// 別の評価が先にオープンなアラートを作成した
			return nil
		}
		return NewStorageError("create_alert", "アラート作成に失敗しました", err)
	}

	alertOpened(cond.alertType)
	e.logger.Warn("在庫アラートを発生させました",
		zap.String("alert_id", alert.ID),
		zap.String("alert_type", string(cond.alertType)),
		zap.String("inventory_id", record.ID),
		zap.String("product_id", record.Key.ProductID),
		zap.String("current_quantity", record.Quantity.String()),
	)

	if e.publisher != nil {
		event := AlertRaisedEvent{
			AlertID:     alert.ID,
			InventoryID: record.ID,
			Type:        cond.alertType,
			CurrentQty:  record.Quantity,
			Threshold:   cond.threshold,
			Timestamp:   now,
		}
		if err := e.publisher.PublishAlertRaised(ctx, event); err != nil {
			e.logger.Error("アラートイベントの発行に失敗しました", zap.Error(err))
		}
	}
	return nil
}

// resolveOpen resolves an open alert whose condition no longer holds
// 条件が成立しなくなったオープンなアラートを解決
func (e *AlertEngine) resolveOpen(ctx context.Context, inventoryID string, alertType AlertType, now time.Time) error {
	existing, err := e.storage.FindOpenAlert(ctx, inventoryID, alertType)
	if errors.Is(err, ErrAlertNotFound) {
		return nil
	}
	if err != nil {
		return NewStorageError("find_open_alert", "アラート検索に失敗しました", err)
	}
	if existing == nil {
		return nil
	}

	snapshot := existing.Status
	resolvedAt := now
	existing.Status = AlertStatusResolved
	existing.ResolvedAt = &resolvedAt
	existing.UpdatedAt = now
	if err := e.storage.UpdateAlert(ctx, existing, snapshot); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrAlertNotFound) {
			// 並行してステータスが変更された。解決済みなら目的は達している
			return nil
		}
		return NewStorageError("update_alert", "アラート更新に失敗しました", err)
	}

	alertClosed(existing.Type)
	e.logger.Info("在庫アラートを自動解決しました",
		zap.String("alert_id", existing.ID),
		zap.String("alert_type", string(existing.Type)),
		zap.String("inventory_id", inventoryID),
	)
	return nil
}

// Sweep evaluates every inventory record. Time-based conditions (expiry)
// change without any movement, so the sweep runs on a schedule.
// すべての在庫記録を評価する。期限系の条件は移動がなくても変化するため、
// スケジュール実行が必要
func (e *AlertEngine) Sweep(ctx context.Context) error {
	records, err := e.storage.ListRecords(ctx)
	if err != nil {
		return NewStorageError("list_records", "在庫記録の一覧取得に失敗しました", err)
	}

	products := make(map[string]*Product)
	var swept, failed int
	for i := range records {
		record := &records[i]

		product, ok := products[record.Key.ProductID]
		if !ok {
			product, err = e.storage.GetProduct(ctx, record.Key.ProductID)
			if err != nil {
				e.logger.Error("スイープ中に商品取得に失敗しました",
					zap.String("product_id", record.Key.ProductID),
					zap.Error(err),
				)
				failed++
				continue
			}
			products[record.Key.ProductID] = product
		}

		if err := e.evaluateRecord(ctx, record, product); err != nil {
			e.logger.Error("スイープ中にアラート評価に失敗しました",
				zap.String("inventory_id", record.ID),
				zap.Error(err),
			)
			failed++
			continue
		}
		swept++
	}

	e.logger.Info("アラートスイープが完了しました",
		zap.Int("swept", swept),
		zap.Int("failed", failed),
	)
	return nil
}

// Run sweeps on a fixed interval until the context is cancelled
// コンテキストがキャンセルされるまで一定間隔でスイープを実行
func (e *AlertEngine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("アラートスイープを開始します", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("アラートスイープを停止します")
			return
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				e.logger.Error("アラートスイープに失敗しました", zap.Error(err))
			}
		}
	}
}

// ListAlerts returns alerts filtered by status (empty status returns all)
// ステータスでフィルタしたアラート一覧を返す（空文字は全件）
func (e *AlertEngine) ListAlerts(ctx context.Context, status AlertStatus) ([]StockAlert, error) {
	return e.storage.ListAlerts(ctx, status)
}

// Acknowledge marks an active alert as acknowledged by a user
// アクティブなアラートを確認済みにする
func (e *AlertEngine) Acknowledge(ctx context.Context, alertID, userID string) (*StockAlert, error) {
	alert, err := e.storage.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if alert.Status != AlertStatusActive {
		return nil, NewBusinessRuleError("alert_not_active",
			"アクティブなアラートのみ確認できます",
			fmt.Sprintf("alert_id=%s status=%s", alertID, alert.Status))
	}

	now := e.clock()
	alert.Status = AlertStatusAcknowledged
	alert.AcknowledgedBy = userID
	alert.AcknowledgedAt = &now
	alert.UpdatedAt = now
	if err := e.storage.UpdateAlert(ctx, alert, AlertStatusActive); err != nil {
		if errors.Is(err, ErrConflict) {
			// 読み取りからの間にステータスが変わった
			return nil, NewBusinessRuleError("alert_not_active",
				"アクティブなアラートのみ確認できます",
				fmt.Sprintf("alert_id=%s", alertID))
		}
		return nil, NewStorageError("update_alert", "アラート更新に失敗しました", err)
	}

	e.logger.Info("アラートを確認しました",
		zap.String("alert_id", alertID),
		zap.String("acknowledged_by", userID),
	)
	return alert, nil
}

// Resolve manually resolves an open alert. Resolving an already resolved
// alert is a no-op.
// オープンなアラートを手動で解決する。解決済みのアラートへの再実行は何もしない
func (e *AlertEngine) Resolve(ctx context.Context, alertID string) (*StockAlert, error) {
	alert, err := e.storage.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if alert.Status == AlertStatusResolved {
		return alert, nil
	}

	expected := alert.Status
	now := e.clock()
	alert.Status = AlertStatusResolved
	alert.ResolvedAt = &now
	alert.UpdatedAt = now
	if err := e.storage.UpdateAlert(ctx, alert, expected); err != nil {
		if errors.Is(err, ErrConflict) {
			// 並行した遷移に敗れた。解決済みになっていれば冪等に成功とみなす
			current, getErr := e.storage.GetAlert(ctx, alertID)
			if getErr == nil && current.Status == AlertStatusResolved {
				return current, nil
			}
			return nil, NewStorageError("update_alert", "アラート更新に失敗しました", err)
		}
		return nil, NewStorageError("update_alert", "アラート更新に失敗しました", err)
	}

	alertClosed(alert.Type)
	e.logger.Info("アラートを解決しました", zap.String("alert_id", alertID))
	return alert, nil
}
