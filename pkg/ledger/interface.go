package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger defines the core API consumed by outer layers
// 外部レイヤーが利用するコアAPIを定義
type Ledger interface {
	// 移動の記録 - Movement recording
	RecordMovement(ctx context.Context, req MovementRequest) (*StockMovement, error)

	// 在庫照会 - Inventory inquiry
	GetInventory(ctx context.Context, productID, warehouseID, batchNumber string) (*InventoryRecord, error)
	ListInventory(ctx context.Context) ([]InventoryRecord, error)
	ListMovements(ctx context.Context, limit int) ([]StockMovement, error)

	// 予約管理 - Reservation management
	Reserve(ctx context.Context, key RecordKey, quantity decimal.Decimal) (*InventoryRecord, error)
	ReleaseReservation(ctx context.Context, key RecordKey, quantity decimal.Decimal) (*InventoryRecord, error)

	// 受発注アダプタ - Order fulfillment adapters
	ApplyPurchaseReceipt(ctx context.Context, receipt PurchaseReceipt) ([]StockMovement, error)
	ApplySalesShipment(ctx context.Context, shipment SalesShipment) ([]StockMovement, error)
}

// AlertManager defines the alert engine surface
// アラートエンジンのインターフェースを定義
type AlertManager interface {
	EvaluateKey(ctx context.Context, key RecordKey) error
	Sweep(ctx context.Context) error
	ListAlerts(ctx context.Context, status AlertStatus) ([]StockAlert, error)
	Acknowledge(ctx context.Context, alertID, userID string) (*StockAlert, error)
	Resolve(ctx context.Context, alertID string) (*StockAlert, error)
}

// RecordEvaluator re-evaluates alert conditions for one inventory key.
// The ledger calls it best-effort after each committed mutation.
// 1つの在庫キーのアラート条件を再評価する。台帳はコミット後にベストエフォートで呼び出す
type RecordEvaluator interface {
	EvaluateKey(ctx context.Context, key RecordKey) error
}

// Tx is the view of the store inside one atomic unit. Records fetched through
// it are locked for the duration of the transaction; mutations become visible
// only when the whole unit commits.
// 1つのアトミック単位内でのストアのビュー。取得した記録はトランザクション期間中
// ロックされ、変更は単位全体のコミット時にのみ可視になる
type Tx interface {
	Fetch(key RecordKey) (*InventoryRecord, error)
	Put(record *InventoryRecord) error
	AppendMovement(movement *StockMovement) error
	SetLocationOccupied(locationID string, occupied bool) error
}

// Storage defines the interface for the data persistence layer
// データ永続化層のインターフェースを定義
type Storage interface {
	// Atomic movement application
	// キー集合に対する排他ロック付きのアトミック実行。ロック待ちが上限を超えた
	// 場合は ErrConflict、コミット時の参照番号衝突は ErrDuplicateReference を返す
	Transact(ctx context.Context, keys []RecordKey, fn func(tx Tx) error) error

	// Inventory reads
	FetchRecord(ctx context.Context, key RecordKey) (*InventoryRecord, error)
	ListRecords(ctx context.Context) ([]InventoryRecord, error)

	// Ledger reads
	ListMovements(ctx context.Context, limit int) ([]StockMovement, error)
	GetMovementByReference(ctx context.Context, reference string) (*StockMovement, error)

	// Reference number sequences (serialized per prefix+date)
	NextSequence(ctx context.Context, prefix string, date time.Time) (int, error)

	// Master data (read-only to the core; creation is seeding support)
	CreateProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, productID string) (*Product, error)
	CreateWarehouse(ctx context.Context, warehouse *Warehouse) error
	GetWarehouse(ctx context.Context, warehouseID string) (*Warehouse, error)
	CreateLocation(ctx context.Context, location *StorageLocation) error
	GetLocation(ctx context.Context, locationID string) (*StorageLocation, error)

	// Alert management. CreateAlert rejects a second open alert for the same
	// (inventory, type) with ErrDuplicateAlert; UpdateAlert writes only when
	// the stored status still equals expected, otherwise ErrConflict
	CreateAlert(ctx context.Context, alert *StockAlert) error
	GetAlert(ctx context.Context, alertID string) (*StockAlert, error)
	ListAlerts(ctx context.Context, status AlertStatus) ([]StockAlert, error)
	UpdateAlert(ctx context.Context, alert *StockAlert, expected AlertStatus) error
	FindOpenAlert(ctx context.Context, inventoryID string, alertType AlertType) (*StockAlert, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// EventPublisher defines interface for publishing ledger events
// 台帳イベント発行のインターフェースを定義
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event StockChangedEvent) error
	PublishAlertRaised(ctx context.Context, event AlertRaisedEvent) error
}

// StockChangedEvent represents a committed inventory change
// コミット済みの在庫変更イベントを表現
type StockChangedEvent struct {
	Key             RecordKey       `json:"key"`
	OldQuantity     decimal.Decimal `json:"old_quantity"`
	NewQuantity     decimal.Decimal `json:"new_quantity"`
	MovementType    MovementType    `json:"movement_type"`
	ReferenceNumber string          `json:"reference_number"`
	Timestamp       time.Time       `json:"timestamp"`
	UserID          string          `json:"user_id"`
}

// AlertRaisedEvent represents a newly raised stock alert
// 新規に発生した在庫アラートイベントを表現
type AlertRaisedEvent struct {
	AlertID     string          `json:"alert_id"`
	InventoryID string          `json:"inventory_id"`
	Type        AlertType       `json:"type"`
	CurrentQty  decimal.Decimal `json:"current_qty"`
	Threshold   decimal.Decimal `json:"threshold"`
	Timestamp   time.Time       `json:"timestamp"`
}
