package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaikoLedger/pkg/ledger"
)

// PostgresStore implements the Storage interface using PostgreSQL.
// Transact maps to a database transaction with row locks (FOR UPDATE) on the
// affected inventory rows; lock_timeout bounds the wait so contended callers
// get ErrConflict instead of queueing indefinitely.
// PostgreSQLを使用したStorageインターフェースの実装。
// TransactはFOR UPDATEによる行ロック付きのデータベーストランザクションに
// 対応する。lock_timeoutで待ち時間に上限を設け、競合した呼び出しは
// 無期限に並ばずErrConflictを受け取る
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// インターフェース実装の確認
var _ ledger.Storage = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store instance
// 新しいPostgreSQLストアインスタンスを作成
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{
		db:     db,
		logger: logger,
	}, nil
}

const recordColumns = `id, product_id, warehouse_id, batch_number, quantity, reserved_quantity,
	storage_location_id, expiry_date, manufacturing_date, last_restocked_at, created_at, updated_at`

const movementColumns = `id, sequence, movement_type, transaction_type, reference_number, product_id,
	from_warehouse_id, from_location_id, to_warehouse_id, to_location_id,
	quantity, unit_price, total_amount, batch_number, expiry_date,
	party_name, notes, reason, movement_date, recorded_by, created_at`

const alertColumns = `id, inventory_id, type, status, message, current_quantity, threshold,
	acknowledged_by, acknowledged_at, resolved_at, created_at, updated_at`

// postgresTx adapts one database transaction to the Tx interface
// 1つのデータベーストランザクションをTxインターフェースに適合
type postgresTx struct {
	tx *sql.Tx
}

var _ ledger.Tx = (*postgresTx)(nil)

// Transact runs fn inside one database transaction with the affected
// inventory rows locked in sorted key order
// 対象の在庫行をソート済みキー順でロックした単一トランザクション内でfnを実行
func (s *PostgresStore) Transact(ctx context.Context, keys []ledger.RecordKey, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '2s'`); err != nil {
		tx.Rollback()
		return fmt.Errorf("lock_timeout設定に失敗しました: %w", err)
	}

	// 既存行を先にロックする。行が未作成のキーはここではロックされないが、
	// 同時作成は (product, warehouse, batch) の一意制約が検出する
	for _, key := range dedupeKeys(keys) {
		_, err := tx.ExecContext(ctx, `
			SELECT id FROM inventory_records
			WHERE product_id = $1 AND warehouse_id = $2 AND batch_number = $3
			FOR UPDATE`,
			key.ProductID, key.WarehouseID, key.BatchNumber,
		)
		if err != nil {
			tx.Rollback()
			return mapPQError(err, "行ロック獲得に失敗しました")
		}
	}

	if err := fn(&postgresTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapPQError(err, "コミットに失敗しました")
	}
	return nil
}

// Fetch retrieves and locks one inventory record inside the transaction
// トランザクション内で在庫記録を取得してロック
func (t *postgresTx) Fetch(key ledger.RecordKey) (*ledger.InventoryRecord, error) {
	row := t.tx.QueryRow(`
		SELECT `+recordColumns+`
		FROM inventory_records
		WHERE product_id = $1 AND warehouse_id = $2 AND batch_number = $3
		FOR UPDATE`,
		key.ProductID, key.WarehouseID, key.BatchNumber,
	)
	record, err := scanRecord(row)
	if err != nil && !errors.Is(err, ledger.ErrRecordNotFound) {
		// lock_timeout到達はここで表面化しうる。再試行可能な競合に対応付ける
		return nil, mapPQError(err, "在庫記録の取得に失敗しました")
	}
	return record, err
}

// Put upserts one inventory record
// 在庫記録をupsert
func (t *postgresTx) Put(record *ledger.InventoryRecord) error {
	_, err := t.tx.Exec(`
		INSERT INTO inventory_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (product_id, warehouse_id, batch_number) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			reserved_quantity = EXCLUDED.reserved_quantity,
			storage_location_id = EXCLUDED.storage_location_id,
			expiry_date = EXCLUDED.expiry_date,
			manufacturing_date = EXCLUDED.manufacturing_date,
			last_restocked_at = EXCLUDED.last_restocked_at,
			updated_at = EXCLUDED.updated_at`,
		record.ID,
		record.Key.ProductID,
		record.Key.WarehouseID,
		record.Key.BatchNumber,
		record.Quantity,
		record.ReservedQuantity,
		nullString(record.StorageLocationID),
		record.ExpiryDate,
		record.ManufacturingDate,
		record.LastRestockedAt,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return mapPQError(err, "在庫記録の保存に失敗しました")
	}
	return nil
}

// AppendMovement inserts one immutable ledger entry. The sequence column is
// assigned by the database and written back into the movement.
// 不変の台帳エントリを挿入する。挿入順序はデータベースが採番し、
// 移動記録に書き戻される
func (t *postgresTx) AppendMovement(movement *ledger.StockMovement) error {
	err := t.tx.QueryRow(`
		INSERT INTO stock_movements (
			id, movement_type, transaction_type, reference_number, product_id,
			from_warehouse_id, from_location_id, to_warehouse_id, to_location_id,
			quantity, unit_price, total_amount, batch_number, expiry_date,
			party_name, notes, reason, movement_date, recorded_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now())
		RETURNING sequence, created_at`,
		movement.ID,
		movement.MovementType,
		movement.TransactionType,
		movement.ReferenceNumber,
		movement.ProductID,
		movement.FromWarehouseID,
		movement.FromLocationID,
		movement.ToWarehouseID,
		movement.ToLocationID,
		movement.Quantity,
		movement.UnitPrice,
		movement.TotalAmount,
		movement.BatchNumber,
		movement.ExpiryDate,
		movement.PartyName,
		movement.Notes,
		movement.Reason,
		movement.MovementDate,
		movement.RecordedBy,
	).Scan(&movement.Sequence, &movement.CreatedAt)
	if err != nil {
		return mapPQError(err, "台帳エントリの挿入に失敗しました")
	}
	return nil
}

// SetLocationOccupied updates a storage location occupancy flag
// 保管ロケーションの占有フラグを更新
func (t *postgresTx) SetLocationOccupied(locationID string, occupied bool) error {
	result, err := t.tx.Exec(`
		UPDATE storage_locations
		SET is_occupied = $2, updated_at = now()
		WHERE id = $1`,
		locationID, occupied,
	)
	if err != nil {
		return mapPQError(err, "ロケーション更新に失敗しました")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ledger.ErrLocationNotFound
	}
	return nil
}

// FetchRecord retrieves one inventory record
// 在庫記録を1件取得
func (s *PostgresStore) FetchRecord(ctx context.Context, key ledger.RecordKey) (*ledger.InventoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM inventory_records
		WHERE product_id = $1 AND warehouse_id = $2 AND batch_number = $3`,
		key.ProductID, key.WarehouseID, key.BatchNumber,
	)
	return scanRecord(row)
}

// ListRecords returns all inventory records in key order
// すべての在庫記録をキー順で取得
func (s *PostgresStore) ListRecords(ctx context.Context) ([]ledger.InventoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM inventory_records
		ORDER BY product_id, warehouse_id, batch_number`)
	if err != nil {
		return nil, fmt.Errorf("在庫一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []ledger.InventoryRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("在庫スキャンに失敗しました: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// ListMovements returns the most recent ledger entries, newest first
// 直近の台帳エントリを新しい順で取得
func (s *PostgresStore) ListMovements(ctx context.Context, limit int) ([]ledger.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		ORDER BY sequence DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("台帳履歴取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var movements []ledger.StockMovement
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("移動スキャンに失敗しました: %w", err)
		}
		movements = append(movements, *movement)
	}
	return movements, rows.Err()
}

// GetMovementByReference retrieves a ledger entry by reference number
// 参照番号で台帳エントリを取得
func (s *PostgresStore) GetMovementByReference(ctx context.Context, reference string) (*ledger.StockMovement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE reference_number = $1`, reference)

	movement, err := scanMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrMovementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("移動取得に失敗しました: %w", err)
	}
	return movement, nil
}

// NextSequence atomically increments and returns the reference sequence for
// one prefix and day. The upsert serializes concurrent callers on the row.
// プレフィックスと日付ごとの参照連番をアトミックにインクリメントして返す。
// upsertが同時呼び出しを行単位で直列化する
func (s *PostgresStore) NextSequence(ctx context.Context, prefix string, date time.Time) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reference_sequences (prefix, seq_date, last_seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, seq_date)
		DO UPDATE SET last_seq = reference_sequences.last_seq + 1
		RETURNING last_seq`,
		prefix, date.Format("2006-01-02"),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("参照連番の採番に失敗しました: %w", err)
	}
	return seq, nil
}

// CreateProduct creates a product
// 商品を作成
func (s *PostgresStore) CreateProduct(ctx context.Context, product *ledger.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, sku, unit, purchase_price, selling_price, reorder_level, shelf_life_days, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		product.ID,
		product.Name,
		product.SKU,
		product.Unit,
		product.PurchasePrice,
		product.SellingPrice,
		product.ReorderLevel,
		product.ShelfLifeDays,
		product.IsActive,
		product.CreatedAt,
		product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateProduct
		}
		return fmt.Errorf("商品作成に失敗しました: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by ID
// IDで商品を取得
func (s *PostgresStore) GetProduct(ctx context.Context, productID string) (*ledger.Product, error) {
	product := &ledger.Product{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, sku, unit, purchase_price, selling_price, reorder_level, shelf_life_days, is_active, created_at, updated_at
		FROM products
		WHERE id = $1`, productID,
	).Scan(
		&product.ID,
		&product.Name,
		&product.SKU,
		&product.Unit,
		&product.PurchasePrice,
		&product.SellingPrice,
		&product.ReorderLevel,
		&product.ShelfLifeDays,
		&product.IsActive,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrProductNotFound
		}
		return nil, fmt.Errorf("商品取得に失敗しました: %w", err)
	}
	return product, nil
}

// CreateWarehouse creates a warehouse
// 倉庫を作成
func (s *PostgresStore) CreateWarehouse(ctx context.Context, warehouse *ledger.Warehouse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warehouses (id, name, code, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		warehouse.ID,
		warehouse.Name,
		warehouse.Code,
		warehouse.IsActive,
		warehouse.CreatedAt,
		warehouse.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateWarehouse
		}
		return fmt.Errorf("倉庫作成に失敗しました: %w", err)
	}
	return nil
}

// GetWarehouse retrieves a warehouse by ID
// IDで倉庫を取得
func (s *PostgresStore) GetWarehouse(ctx context.Context, warehouseID string) (*ledger.Warehouse, error) {
	warehouse := &ledger.Warehouse{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, code, is_active, created_at, updated_at
		FROM warehouses
		WHERE id = $1`, warehouseID,
	).Scan(
		&warehouse.ID,
		&warehouse.Name,
		&warehouse.Code,
		&warehouse.IsActive,
		&warehouse.CreatedAt,
		&warehouse.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrWarehouseNotFound
		}
		return nil, fmt.Errorf("倉庫取得に失敗しました: %w", err)
	}
	return warehouse, nil
}

// CreateLocation creates a storage location
// 保管ロケーションを作成
func (s *PostgresStore) CreateLocation(ctx context.Context, location *ledger.StorageLocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO storage_locations (id, warehouse_id, code, is_occupied, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		location.ID,
		location.WarehouseID,
		location.Code,
		location.IsOccupied,
		location.CreatedAt,
		location.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateLocation
		}
		return fmt.Errorf("ロケーション作成に失敗しました: %w", err)
	}
	return nil
}

// GetLocation retrieves a storage location by ID
// IDで保管ロケーションを取得
func (s *PostgresStore) GetLocation(ctx context.Context, locationID string) (*ledger.StorageLocation, error) {
	location := &ledger.StorageLocation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, warehouse_id, code, is_occupied, created_at, updated_at
		FROM storage_locations
		WHERE id = $1`, locationID,
	).Scan(
		&location.ID,
		&location.WarehouseID,
		&location.Code,
		&location.IsOccupied,
		&location.CreatedAt,
		&location.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrLocationNotFound
		}
		return nil, fmt.Errorf("ロケーション取得に失敗しました: %w", err)
	}
	return location, nil
}

// CreateAlert creates a stock alert. The partial unique index on open alerts
// rejects a second open alert per (inventory, type) with ErrDuplicateAlert.
// 在庫アラートを作成する。オープンアラートの部分一意インデックスにより
// (在庫記録, タイプ) ごとの2件目のオープンアラートはErrDuplicateAlertで拒否される
func (s *PostgresStore) CreateAlert(ctx context.Context, alert *ledger.StockAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		alert.ID,
		alert.InventoryID,
		alert.Type,
		alert.Status,
		alert.Message,
		alert.CurrentQuantity,
		alert.Threshold,
		alert.AcknowledgedBy,
		alert.AcknowledgedAt,
		alert.ResolvedAt,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if isUniqueViolation(err) {
		// idx_stock_alerts_open による (在庫記録, タイプ) ごとのオープン1件制約
		return ledger.ErrDuplicateAlert
	}
	if err != nil {
		return fmt.Errorf("アラート作成に失敗しました: %w", err)
	}
	return nil
}

// GetAlert retrieves an alert by ID
// IDでアラートを取得
func (s *PostgresStore) GetAlert(ctx context.Context, alertID string) (*ledger.StockAlert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+`
		FROM stock_alerts
		WHERE id = $1`, alertID)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("アラート取得に失敗しました: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts filtered by status, newest first.
// An empty status returns all alerts.
// ステータスでフィルタしたアラートを新しい順で取得。空文字は全件
func (s *PostgresStore) ListAlerts(ctx context.Context, status ledger.AlertStatus) ([]ledger.StockAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM stock_alerts`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("アラート一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var alerts []ledger.StockAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("アラートスキャンに失敗しました: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// UpdateAlert updates an existing alert only while its stored status still
// equals expected. A lost race returns ErrConflict so a stale writer can
// never overwrite a concurrent status transition.
// 格納中のステータスがexpectedと一致する場合のみアラートを更新する。
// 競合に敗れた場合はErrConflictを返し、古い書き込みが並行した
// ステータス遷移を上書きすることはない
func (s *PostgresStore) UpdateAlert(ctx context.Context, alert *ledger.StockAlert, expected ledger.AlertStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stock_alerts
		SET status = $2, message = $3, current_quantity = $4, threshold = $5,
			acknowledged_by = $6, acknowledged_at = $7, resolved_at = $8, updated_at = $9
		WHERE id = $1 AND status = $10`,
		alert.ID,
		alert.Status,
		alert.Message,
		alert.CurrentQuantity,
		alert.Threshold,
		alert.AcknowledgedBy,
		alert.AcknowledgedAt,
		alert.ResolvedAt,
		alert.UpdatedAt,
		expected,
	)
	if err != nil {
		return fmt.Errorf("アラート更新に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.GetAlert(ctx, alert.ID); errors.Is(getErr, ledger.ErrAlertNotFound) {
			return ledger.ErrAlertNotFound
		}
		return ledger.ErrConflict
	}
	return nil
}

// FindOpenAlert finds an active or acknowledged alert for one record and type
// 指定記録・タイプのオープンな（アクティブまたは確認済み）アラートを検索
func (s *PostgresStore) FindOpenAlert(ctx context.Context, inventoryID string, alertType ledger.AlertType) (*ledger.StockAlert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+`
		FROM stock_alerts
		WHERE inventory_id = $1 AND type = $2 AND status IN ('active', 'acknowledged')
		ORDER BY created_at DESC
		LIMIT 1`, inventoryID, alertType)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("アラート検索に失敗しました: %w", err)
	}
	return alert, nil
}

// Ping checks database connectivity
// データベース接続をチェック
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows
// sql.Rowとsql.Rowsを抽象化
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*ledger.InventoryRecord, error) {
	record := &ledger.InventoryRecord{}
	var locationID sql.NullString
	err := row.Scan(
		&record.ID,
		&record.Key.ProductID,
		&record.Key.WarehouseID,
		&record.Key.BatchNumber,
		&record.Quantity,
		&record.ReservedQuantity,
		&locationID,
		&record.ExpiryDate,
		&record.ManufacturingDate,
		&record.LastRestockedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrRecordNotFound
		}
		return nil, err
	}
	record.StorageLocationID = locationID.String
	return record, nil
}

func scanMovement(row scanner) (*ledger.StockMovement, error) {
	movement := &ledger.StockMovement{}
	var fromWarehouse, fromLocation, toWarehouse, toLocation sql.NullString
	err := row.Scan(
		&movement.ID,
		&movement.Sequence,
		&movement.MovementType,
		&movement.TransactionType,
		&movement.ReferenceNumber,
		&movement.ProductID,
		&fromWarehouse,
		&fromLocation,
		&toWarehouse,
		&toLocation,
		&movement.Quantity,
		&movement.UnitPrice,
		&movement.TotalAmount,
		&movement.BatchNumber,
		&movement.ExpiryDate,
		&movement.PartyName,
		&movement.Notes,
		&movement.Reason,
		&movement.MovementDate,
		&movement.RecordedBy,
		&movement.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	movement.FromWarehouseID = nullToPtr(fromWarehouse)
	movement.FromLocationID = nullToPtr(fromLocation)
	movement.ToWarehouseID = nullToPtr(toWarehouse)
	movement.ToLocationID = nullToPtr(toLocation)
	return movement, nil
}

func scanAlert(row scanner) (*ledger.StockAlert, error) {
	alert := &ledger.StockAlert{}
	var acknowledgedBy sql.NullString
	err := row.Scan(
		&alert.ID,
		&alert.InventoryID,
		&alert.Type,
		&alert.Status,
		&alert.Message,
		&alert.CurrentQuantity,
		&alert.Threshold,
		&acknowledgedBy,
		&alert.AcknowledgedAt,
		&alert.ResolvedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	alert.AcknowledgedBy = acknowledgedBy.String
	return alert, nil
}

// mapPQError maps PostgreSQL error codes to ledger errors
// PostgreSQLエラーコードを台帳エラーに対応付け
func mapPQError(err error, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			if pqErr.Constraint == "stock_movements_reference_number_key" {
				return ledger.ErrDuplicateReference
			}
			// 在庫行の同時作成。呼び出し側が再試行できるよう競合として扱う
			return ledger.ErrConflict
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return ledger.ErrConflict
		}
	}
	return fmt.Errorf("%s: %w", message, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullToPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	value := s.String
	return &value
}
