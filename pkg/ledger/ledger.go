package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service implements the Ledger interface
// Ledgerインターフェースの実装
type Service struct {
	storage   Storage          // ストレージ層
	publisher EventPublisher   // イベント発行者
	refs      *ReferenceGenerator // 参照番号ジェネレーター
	evaluator RecordEvaluator  // アラート再評価（任意）
	logger    *zap.Logger      // ログ
	config    *Config          // 設定
}

// すべてのインターフェースを実装することを明示
var _ Ledger = (*Service)(nil)

// Config holds configuration for the ledger service
// 台帳サービスの設定を保持
type Config struct {
	ReferencePrefix     string `yaml:"reference_prefix"`      // 参照番号プレフィックス
	MaxReferenceRetries int    `yaml:"max_reference_retries"` // 参照番号衝突時の再採番上限
	ExpiryWindowDays    int    `yaml:"expiry_window_days"`    // 期限切れ警告ウィンドウ（日数）
}

// NewService creates a new ledger service
// 新しい台帳サービスを作成
func NewService(storage Storage, publisher EventPublisher, logger *zap.Logger, config *Config) *Service {
	if config == nil {
		config = &Config{
			ReferencePrefix:     "SM",
			MaxReferenceRetries: 3,
			ExpiryWindowDays:    3,
		}
	}
	if config.MaxReferenceRetries <= 0 {
		config.MaxReferenceRetries = 3
	}
	if config.ExpiryWindowDays <= 0 {
		config.ExpiryWindowDays = 3
	}

	return &Service{
		storage:   storage,
		publisher: publisher,
		refs:      NewReferenceGenerator(storage, config.ReferencePrefix),
		logger:    logger,
		config:    config,
	}
}

// SetEvaluator attaches an alert evaluator invoked after each committed movement
// コミット後に呼び出すアラート評価器を設定
func (s *Service) SetEvaluator(evaluator RecordEvaluator) {
	s.evaluator = evaluator
}

// recordDefaults carries the creation defaults for a lazily created record
// 遅延作成される在庫記録の初期値を保持
type recordDefaults struct {
	StorageLocationID string
	ExpiryDate        *time.Time
}

// RecordMovement validates and applies one movement, appending the immutable
// ledger entry and the inventory mutation as a single atomic unit.
// 1件の移動をバリデーションして適用し、不変の台帳エントリと在庫変更を
// 単一のアトミック単位として記録する
func (s *Service) RecordMovement(ctx context.Context, req MovementRequest) (*StockMovement, error) {
	started := time.Now()

	movement, err := s.recordMovement(ctx, &req)
	if err != nil {
		observeMovementFailure(err)
		return nil, err
	}

	observeMovement(movement.MovementType, started)
	return movement, nil
}

func (s *Service) recordMovement(ctx context.Context, req *MovementRequest) (*StockMovement, error) {
	if err := ValidateMovementRequest(req); err != nil {
		return nil, err
	}
	if err := s.validateMasterData(ctx, req); err != nil {
		return nil, err
	}

	if req.MovementDate.IsZero() {
		req.MovementDate = time.Now()
	}
	totalAmount := req.Quantity.Mul(req.UnitPrice)
	keys := affectedKeys(req)

	// 採番と適用。生成番号が衝突した場合のみ新しい番号で再試行する
	for attempt := 0; attempt < s.config.MaxReferenceRetries; attempt++ {
		reference := req.ReferenceNumber
		if reference == "" {
			var err error
			reference, err = s.refs.Next(ctx, req.MovementDate)
			if err != nil {
				return nil, err
			}
		}

		movement := buildMovement(req, reference, totalAmount)

		var changes []StockChangedEvent
		err := s.storage.Transact(ctx, keys, func(tx Tx) error {
			changes = changes[:0]
			applied, err := s.applyTransitions(tx, req, movement)
			if err != nil {
				return err
			}
			changes = applied
			return tx.AppendMovement(movement)
		})

		if errors.Is(err, ErrDuplicateReference) {
			if req.ReferenceNumber != "" {
				// リクエストが番号を持ち込んだ場合の衝突は再試行済みのリクエスト。
				// 新しい番号を採番せず、コミット済みの移動を返す（冪等性）
				existing, lookupErr := s.storage.GetMovementByReference(ctx, req.ReferenceNumber)
				if lookupErr == nil {
					s.logger.Info("既にコミット済みの移動を返します",
						zap.String("reference_number", req.ReferenceNumber),
					)
					return existing, nil
				}
				return nil, err
			}
			s.logger.Warn("参照番号が衝突したため再採番します",
				zap.String("reference_number", reference),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.afterCommit(ctx, req, movement, keys, changes)
		return movement, nil
	}

	// 再採番の上限に達した。呼び出し側が再試行できるよう競合として返す
	return nil, ErrConflict
}

// applyTransitions applies the inventory store transition(s) for one movement
// 1件の移動に対応する在庫ストア遷移を適用
func (s *Service) applyTransitions(tx Tx, req *MovementRequest, movement *StockMovement) ([]StockChangedEvent, error) {
	now := movement.MovementDate
	var changes []StockChangedEvent

	record := func(key RecordKey, old, new decimal.Decimal) {
		changes = append(changes, StockChangedEvent{
			Key:             key,
			OldQuantity:     old,
			NewQuantity:     new,
			MovementType:    req.MovementType,
			ReferenceNumber: movement.ReferenceNumber,
			Timestamp:       now,
			UserID:          req.RecordedBy,
		})
	}

	switch req.MovementType {
	case MovementTypeIn:
		key := NewRecordKey(req.ProductID, req.ToWarehouseID, req.BatchNumber)
		defaults := recordDefaults{StorageLocationID: req.ToLocationID, ExpiryDate: req.ExpiryDate}
		rec, old, err := upsertDelta(tx, key, req.Quantity, defaults, now)
		if err != nil {
			return nil, err
		}
		record(key, old, rec.Quantity)

	case MovementTypeOut:
		key := NewRecordKey(req.ProductID, req.FromWarehouseID, req.BatchNumber)
		rec, old, err := upsertDelta(tx, key, req.Quantity.Neg(), recordDefaults{}, now)
		if err != nil {
			return nil, err
		}
		record(key, old, rec.Quantity)

	case MovementTypeTransfer:
		// 両レッグを同一トランザクション内で適用する。どちらかが失敗すれば
		// 全体がロールバックされ、片側だけ適用された状態は観測されない
		fromKey := NewRecordKey(req.ProductID, req.FromWarehouseID, req.BatchNumber)
		outRec, outOld, err := upsertDelta(tx, fromKey, req.Quantity.Neg(), recordDefaults{}, now)
		if err != nil {
			return nil, err
		}
		record(fromKey, outOld, outRec.Quantity)

		toKey := NewRecordKey(req.ProductID, req.ToWarehouseID, req.BatchNumber)
		defaults := recordDefaults{StorageLocationID: req.ToLocationID, ExpiryDate: req.ExpiryDate}
		inRec, inOld, err := upsertDelta(tx, toKey, req.Quantity, defaults, now)
		if err != nil {
			return nil, err
		}
		record(toKey, inOld, inRec.Quantity)

	case MovementTypeAdjustment:
		key := NewRecordKey(req.ProductID, req.ToWarehouseID, req.BatchNumber)
		defaults := recordDefaults{StorageLocationID: req.ToLocationID, ExpiryDate: req.ExpiryDate}
		rec, old, err := setAbsolute(tx, key, req.Quantity, defaults, now)
		if err != nil {
			return nil, err
		}
		record(key, old, rec.Quantity)
	}

	return changes, nil
}

// upsertDelta adds delta to the record's quantity, creating the record when
// absent and delta is positive. The resulting quantity is never negative.
// 在庫記録の数量にdeltaを加算する。記録が存在せずdeltaが正なら遅延作成する。
// 結果の数量が負になることはない
func upsertDelta(tx Tx, key RecordKey, delta decimal.Decimal, defaults recordDefaults, now time.Time) (*InventoryRecord, decimal.Decimal, error) {
	rec, err := tx.Fetch(key)
	if errors.Is(err, ErrRecordNotFound) {
		if delta.Sign() < 0 {
			return nil, decimal.Zero, ErrRecordNotFound
		}
		rec = newRecord(key, defaults, now)
	} else if err != nil {
		return nil, decimal.Zero, err
	}

	old := rec.Quantity
	next := rec.Quantity.Add(delta)
	if next.Sign() < 0 {
		return nil, decimal.Zero, ErrInsufficientStock
	}

	rec.Quantity = next
	if delta.Sign() > 0 {
		rec.LastRestockedAt = now
		if defaults.StorageLocationID != "" {
			rec.StorageLocationID = defaults.StorageLocationID
		}
	}
	rec.UpdatedAt = now

	if err := tx.Put(rec); err != nil {
		return nil, decimal.Zero, err
	}
	if err := toggleOccupied(tx, rec, old); err != nil {
		return nil, decimal.Zero, err
	}
	return rec, old, nil
}

// setAbsolute overwrites the record's quantity, creating the record if absent.
// Used only for ADJUSTMENT; prior value is not consulted beyond existence.
// 在庫記録の数量を指定値で上書きする。記録がなければ作成する。
// ADJUSTMENT専用で、既存値は存在確認以外に参照しない
func setAbsolute(tx Tx, key RecordKey, value decimal.Decimal, defaults recordDefaults, now time.Time) (*InventoryRecord, decimal.Decimal, error) {
	if value.Sign() < 0 {
		return nil, decimal.Zero, NewValidationError("quantity", "数量は0以上である必要があります", value.String())
	}

	rec, err := tx.Fetch(key)
	if errors.Is(err, ErrRecordNotFound) {
		rec = newRecord(key, defaults, now)
	} else if err != nil {
		return nil, decimal.Zero, err
	}

	old := rec.Quantity
	rec.Quantity = value
	rec.UpdatedAt = now

	if err := tx.Put(rec); err != nil {
		return nil, decimal.Zero, err
	}
	if err := toggleOccupied(tx, rec, old); err != nil {
		return nil, decimal.Zero, err
	}
	return rec, old, nil
}

// toggleOccupied updates the attached location's occupancy at zero crossings
// ゼロ交差時に保管ロケーションの占有状態を更新
func toggleOccupied(tx Tx, rec *InventoryRecord, old decimal.Decimal) error {
	if rec.StorageLocationID == "" {
		return nil
	}
	if old.Sign() == 0 && rec.Quantity.Sign() > 0 {
		return tx.SetLocationOccupied(rec.StorageLocationID, true)
	}
	if rec.Quantity.Sign() == 0 && old.Sign() > 0 {
		return tx.SetLocationOccupied(rec.StorageLocationID, false)
	}
	return nil
}

// newRecord creates a fresh inventory record with zero quantity
// 数量0の新しい在庫記録を作成
func newRecord(key RecordKey, defaults recordDefaults, now time.Time) *InventoryRecord {
	return &InventoryRecord{
		ID:                NewRecordID(),
		Key:               key,
		Quantity:          decimal.Zero,
		ReservedQuantity:  decimal.Zero,
		StorageLocationID: defaults.StorageLocationID,
		ExpiryDate:        defaults.ExpiryDate,
		LastRestockedAt:   now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// validateMasterData confirms referenced products, warehouses and locations exist
// 参照先の商品・倉庫・ロケーションの存在を確認
func (s *Service) validateMasterData(ctx context.Context, req *MovementRequest) error {
	if _, err := s.storage.GetProduct(ctx, req.ProductID); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return ErrProductNotFound
		}
		return NewStorageError("get_product", "商品取得に失敗しました", err)
	}

	for _, warehouseID := range []string{req.FromWarehouseID, req.ToWarehouseID} {
		if warehouseID == "" {
			continue
		}
		if _, err := s.storage.GetWarehouse(ctx, warehouseID); err != nil {
			if errors.Is(err, ErrWarehouseNotFound) {
				return ErrWarehouseNotFound
			}
			return NewStorageError("get_warehouse", "倉庫取得に失敗しました", err)
		}
	}

	for _, locationID := range []string{req.FromLocationID, req.ToLocationID} {
		if locationID == "" {
			continue
		}
		if _, err := s.storage.GetLocation(ctx, locationID); err != nil {
			if errors.Is(err, ErrLocationNotFound) {
				return ErrLocationNotFound
			}
			return NewStorageError("get_location", "ロケーション取得に失敗しました", err)
		}
	}

	return nil
}

// afterCommit runs best-effort side work: events, alert evaluation, logging
// コミット後のベストエフォート処理：イベント発行、アラート評価、ログ
func (s *Service) afterCommit(ctx context.Context, req *MovementRequest, movement *StockMovement, keys []RecordKey, changes []StockChangedEvent) {
	if s.publisher != nil {
		for _, event := range changes {
			if err := s.publisher.PublishStockChanged(ctx, event); err != nil {
				s.logger.Error("在庫変更イベントの発行に失敗しました", zap.Error(err))
			}
		}
	}

	if s.evaluator != nil {
		for _, key := range keys {
			if err := s.evaluator.EvaluateKey(ctx, key); err != nil {
				s.logger.Error("アラート評価に失敗しました",
					zap.String("product_id", key.ProductID),
					zap.String("warehouse_id", key.WarehouseID),
					zap.Error(err),
				)
			}
		}
	}

	s.logger.Info("在庫移動を記録しました",
		zap.String("movement_id", movement.ID),
		zap.String("reference_number", movement.ReferenceNumber),
		zap.String("movement_type", string(movement.MovementType)),
		zap.String("product_id", movement.ProductID),
		zap.String("quantity", movement.Quantity.String()),
		zap.String("recorded_by", movement.RecordedBy),
	)
}

// GetInventory retrieves the current-state record for one key
// 1つのキーに対する現在庫記録を取得
func (s *Service) GetInventory(ctx context.Context, productID, warehouseID, batchNumber string) (*InventoryRecord, error) {
	return s.storage.FetchRecord(ctx, NewRecordKey(productID, warehouseID, batchNumber))
}

// ListInventory returns all inventory records
// すべての在庫記録を取得
func (s *Service) ListInventory(ctx context.Context) ([]InventoryRecord, error) {
	return s.storage.ListRecords(ctx)
}

// ListMovements returns the most recent ledger entries
// 直近の台帳エントリを取得
func (s *Service) ListMovements(ctx context.Context, limit int) ([]StockMovement, error) {
	if limit <= 0 {
		limit = 100 // デフォルト値
	}
	return s.storage.ListMovements(ctx, limit)
}

// Reserve reserves quantity on an inventory record
// 在庫記録に対して数量を予約
func (s *Service) Reserve(ctx context.Context, key RecordKey, quantity decimal.Decimal) (*InventoryRecord, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return nil, err
	}

	var result *InventoryRecord
	err := s.storage.Transact(ctx, []RecordKey{key}, func(tx Tx) error {
		rec, err := tx.Fetch(key)
		if err != nil {
			return err
		}
		if rec.AvailableQuantity().Cmp(quantity) < 0 {
			return ErrInsufficientStock
		}
		rec.ReservedQuantity = rec.ReservedQuantity.Add(quantity)
		rec.UpdatedAt = time.Now()
		result = rec
		return tx.Put(rec)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("在庫を予約しました",
		zap.String("product_id", key.ProductID),
		zap.String("warehouse_id", key.WarehouseID),
		zap.String("quantity", quantity.String()),
	)
	return result, nil
}

// ReleaseReservation releases previously reserved quantity
// 予約済み数量を解除
func (s *Service) ReleaseReservation(ctx context.Context, key RecordKey, quantity decimal.Decimal) (*InventoryRecord, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return nil, err
	}

	var result *InventoryRecord
	err := s.storage.Transact(ctx, []RecordKey{key}, func(tx Tx) error {
		rec, err := tx.Fetch(key)
		if err != nil {
			return err
		}
		if rec.ReservedQuantity.Cmp(quantity) < 0 {
			return ErrInsufficientReservation
		}
		rec.ReservedQuantity = rec.ReservedQuantity.Sub(quantity)
		rec.UpdatedAt = time.Now()
		result = rec
		return tx.Put(rec)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("在庫予約を解除しました",
		zap.String("product_id", key.ProductID),
		zap.String("warehouse_id", key.WarehouseID),
		zap.String("quantity", quantity.String()),
	)
	return result, nil
}

// Replay re-applies a movement sequence in (movement_date, sequence) order.
// Against an empty store it reproduces the inventory table exactly.
// 移動列を (移動日時, 挿入順序) の順で再適用する。
// 空のストアに対して実行すると在庫テーブルを正確に再現する
func (s *Service) Replay(ctx context.Context, movements []StockMovement) error {
	ordered := make([]StockMovement, len(movements))
	copy(ordered, movements)
	sortMovements(ordered)

	for i := range ordered {
		req := requestFromMovement(&ordered[i])
		if _, err := s.RecordMovement(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// affectedKeys returns the inventory keys a request touches
// リクエストが触れる在庫キーを返す
func affectedKeys(req *MovementRequest) []RecordKey {
	switch req.MovementType {
	case MovementTypeIn, MovementTypeAdjustment:
		return []RecordKey{NewRecordKey(req.ProductID, req.ToWarehouseID, req.BatchNumber)}
	case MovementTypeOut:
		return []RecordKey{NewRecordKey(req.ProductID, req.FromWarehouseID, req.BatchNumber)}
	case MovementTypeTransfer:
		return []RecordKey{
			NewRecordKey(req.ProductID, req.FromWarehouseID, req.BatchNumber),
			NewRecordKey(req.ProductID, req.ToWarehouseID, req.BatchNumber),
		}
	}
	return nil
}

// buildMovement constructs the immutable ledger entry for a request
// リクエストから不変の台帳エントリを構築
func buildMovement(req *MovementRequest, reference string, totalAmount decimal.Decimal) *StockMovement {
	movement := &StockMovement{
		ID:              NewMovementID(),
		MovementType:    req.MovementType,
		TransactionType: req.TransactionType,
		ReferenceNumber: reference,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		TotalAmount:     totalAmount,
		BatchNumber:     req.BatchNumber,
		ExpiryDate:      req.ExpiryDate,
		PartyName:       req.PartyName,
		Notes:           req.Notes,
		Reason:          req.Reason,
		MovementDate:    req.MovementDate,
		RecordedBy:      req.RecordedBy,
	}
	if req.FromWarehouseID != "" {
		movement.FromWarehouseID = &req.FromWarehouseID
	}
	if req.FromLocationID != "" {
		movement.FromLocationID = &req.FromLocationID
	}
	if req.ToWarehouseID != "" {
		movement.ToWarehouseID = &req.ToWarehouseID
	}
	if req.ToLocationID != "" {
		movement.ToLocationID = &req.ToLocationID
	}
	return movement
}

// requestFromMovement reconstructs the request a ledger entry was built from
// 台帳エントリから元のリクエストを再構築
func requestFromMovement(movement *StockMovement) MovementRequest {
	req := MovementRequest{
		MovementType:    movement.MovementType,
		TransactionType: movement.TransactionType,
		ProductID:       movement.ProductID,
		Quantity:        movement.Quantity,
		UnitPrice:       movement.UnitPrice,
		BatchNumber:     movement.BatchNumber,
		ExpiryDate:      movement.ExpiryDate,
		PartyName:       movement.PartyName,
		Notes:           movement.Notes,
		Reason:          movement.Reason,
		MovementDate:    movement.MovementDate,
		RecordedBy:      movement.RecordedBy,
		ReferenceNumber: movement.ReferenceNumber,
	}
	if movement.FromWarehouseID != nil {
		req.FromWarehouseID = *movement.FromWarehouseID
	}
	if movement.FromLocationID != nil {
		req.FromLocationID = *movement.FromLocationID
	}
	if movement.ToWarehouseID != nil {
		req.ToWarehouseID = *movement.ToWarehouseID
	}
	if movement.ToLocationID != nil {
		req.ToLocationID = *movement.ToLocationID
	}
	return req
}
