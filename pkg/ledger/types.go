// Package ledger provides the warehouse stock ledger core:
// an append-only movement record and the derived current-state inventory table.
// 倉庫在庫台帳のコア機能を提供：追記専用の移動記録と、そこから導出される現在庫テーブル
package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product represents a stocked product (master data, read-only to the core)
// 取扱商品を表現（マスタデータ、コアからは読み取り専用）
type Product struct {
	ID            string          `json:"id" db:"id"`                         // 商品ID
	Name          string          `json:"name" db:"name"`                     // 商品名
	SKU           string          `json:"sku" db:"sku"`                       // SKU（在庫管理単位）
	Unit          string          `json:"unit" db:"unit"`                     // 単位（kg、piece など）
	PurchasePrice decimal.Decimal `json:"purchase_price" db:"purchase_price"` // 仕入単価
	SellingPrice  decimal.Decimal `json:"selling_price" db:"selling_price"`   // 販売単価
	ReorderLevel  decimal.Decimal `json:"reorder_level" db:"reorder_level"`   // 発注点（これ以下で低在庫）
	ShelfLifeDays *int            `json:"shelf_life_days" db:"shelf_life_days"` // 賞味期限日数（生鮮品用、任意）
	IsActive      bool            `json:"is_active" db:"is_active"`           // アクティブ状態
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`         // 作成日時
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`         // 更新日時
}

// Warehouse represents a physical warehouse (master data)
// 物理倉庫を表現（マスタデータ）
type Warehouse struct {
	ID        string    `json:"id" db:"id"`                 // 倉庫ID
	Name      string    `json:"name" db:"name"`             // 倉庫名
	Code      string    `json:"code" db:"code"`             // 倉庫コード（例：WH-001）
	IsActive  bool      `json:"is_active" db:"is_active"`   // アクティブ状態
	CreatedAt time.Time `json:"created_at" db:"created_at"` // 作成日時
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // 更新日時
}

// StorageLocation represents a storage slot within a warehouse (master data)
// 倉庫内の保管ロケーションを表現（マスタデータ）
type StorageLocation struct {
	ID          string    `json:"id" db:"id"`                     // ロケーションID
	WarehouseID string    `json:"warehouse_id" db:"warehouse_id"` // 所属倉庫ID
	Code        string    `json:"code" db:"code"`                 // ロケーションコード（例：A-01-02）
	IsOccupied  bool      `json:"is_occupied" db:"is_occupied"`   // 占有状態（ゼロ交差で台帳が更新）
	CreatedAt   time.Time `json:"created_at" db:"created_at"`     // 作成日時
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`     // 更新日時
}

// RecordKey identifies one inventory record
// 在庫記録を一意に識別するキー
type RecordKey struct {
	ProductID   string `json:"product_id"`   // 商品ID
	WarehouseID string `json:"warehouse_id"` // 倉庫ID
	BatchNumber string `json:"batch_number"` // バッチ番号（未指定は空文字に正規化）
}

// NewRecordKey builds a key. The batch number is trimmed so that a padded
// batch and its bare form address the same record; absent batches stay ""
// キーを構築する。バッチ番号は前後の空白を除去し、未指定は空文字のまま
func NewRecordKey(productID, warehouseID, batchNumber string) RecordKey {
	return RecordKey{
		ProductID:   productID,
		WarehouseID: warehouseID,
		BatchNumber: strings.TrimSpace(batchNumber),
	}
}

// InventoryRecord represents current stock for one (product, warehouse, batch)
// (商品, 倉庫, バッチ) ごとの現在庫を表現
type InventoryRecord struct {
	ID                string          `json:"id" db:"id"`                               // 在庫記録ID
	Key               RecordKey       `json:"key"`                                      // 在庫キー
	Quantity          decimal.Decimal `json:"quantity" db:"quantity"`                   // 現在数量（常に0以上）
	ReservedQuantity  decimal.Decimal `json:"reserved_quantity" db:"reserved_quantity"` // 予約済み数量
	StorageLocationID string          `json:"storage_location_id" db:"storage_location_id"` // 保管ロケーションID（任意）
	ExpiryDate        *time.Time      `json:"expiry_date" db:"expiry_date"`             // 有効期限（任意）
	ManufacturingDate *time.Time      `json:"manufacturing_date" db:"manufacturing_date"` // 製造日（任意）
	LastRestockedAt   time.Time       `json:"last_restocked_at" db:"last_restocked_at"` // 最終入庫日時
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`               // 作成日時
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`               // 更新日時
}

// MovementType defines the four ledger transition kinds
// 台帳の4種類の移動タイプを定義
type MovementType string

const (
	MovementTypeIn         MovementType = "IN"         // 入庫
	MovementTypeOut        MovementType = "OUT"        // 出庫
	MovementTypeTransfer   MovementType = "TRANSFER"   // 倉庫間移動
	MovementTypeAdjustment MovementType = "ADJUSTMENT" // 棚卸調整（絶対値設定）
)

// TransactionType defines the business reason behind a movement
// 移動の業務上の理由を定義
type TransactionType string

const (
	TransactionTypePurchase   TransactionType = "purchase"   // 仕入
	TransactionTypeSale       TransactionType = "sale"       // 販売
	TransactionTypeReturn     TransactionType = "return"     // 顧客返品
	TransactionTypeDamage     TransactionType = "damage"     // 破損
	TransactionTypeWastage    TransactionType = "wastage"    // 廃棄
	TransactionTypeTransfer   TransactionType = "transfer"   // 倉庫間移動
	TransactionTypeAdjustment TransactionType = "adjustment" // 在庫調整
	TransactionTypeOpening    TransactionType = "opening"    // 期首在庫
)

// StockMovement represents one immutable ledger entry
// 不変の台帳エントリ1件を表現
type StockMovement struct {
	ID              string          `json:"id" db:"id"`                             // 移動ID
	Sequence        int64           `json:"sequence" db:"sequence"`                 // 挿入順序（リプレイの全順序）
	MovementType    MovementType    `json:"movement_type" db:"movement_type"`       // 移動タイプ
	TransactionType TransactionType `json:"transaction_type" db:"transaction_type"` // 取引タイプ
	ReferenceNumber string          `json:"reference_number" db:"reference_number"` // 参照番号（一意）
	ProductID       string          `json:"product_id" db:"product_id"`             // 商品ID
	FromWarehouseID *string         `json:"from_warehouse_id" db:"from_warehouse_id"` // 移動元倉庫（OUT/TRANSFER）
	FromLocationID  *string         `json:"from_location_id" db:"from_location_id"` // 移動元ロケーション
	ToWarehouseID   *string         `json:"to_warehouse_id" db:"to_warehouse_id"`   // 移動先倉庫（IN/TRANSFER/ADJUSTMENT）
	ToLocationID    *string         `json:"to_location_id" db:"to_location_id"`     // 移動先ロケーション
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`                 // 数量（常に正）
	UnitPrice       decimal.Decimal `json:"unit_price" db:"unit_price"`             // 単価（0以上）
	TotalAmount     decimal.Decimal `json:"total_amount" db:"total_amount"`         // 合計金額（数量×単価）
	BatchNumber     string          `json:"batch_number" db:"batch_number"`         // バッチ番号
	ExpiryDate      *time.Time      `json:"expiry_date" db:"expiry_date"`           // 有効期限
	PartyName       string          `json:"party_name" db:"party_name"`             // 取引先名（顧客または仕入先）
	Notes           string          `json:"notes" db:"notes"`                       // 備考
	Reason          string          `json:"reason" db:"reason"`                     // 移動理由
	MovementDate    time.Time       `json:"movement_date" db:"movement_date"`       // 移動日時
	RecordedBy      string          `json:"recorded_by" db:"recorded_by"`           // 記録者
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`             // 作成日時
}

// AlertType defines types of stock alerts
// 在庫アラートのタイプを定義
type AlertType string

const (
	AlertTypeLowStock     AlertType = "low_stock"     // 低在庫
	AlertTypeOutOfStock   AlertType = "out_of_stock"  // 在庫切れ
	AlertTypeExpiringSoon AlertType = "expiring_soon" // 期限切れ間近
	AlertTypeExpired      AlertType = "expired"       // 期限切れ
)

// AlertStatus defines the alert lifecycle states
// アラートのライフサイクル状態を定義
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"       // アクティブ
	AlertStatusAcknowledged AlertStatus = "acknowledged" // 確認済み
	AlertStatusResolved     AlertStatus = "resolved"     // 解決済み
)

// StockAlert represents a derived stock alert
// 在庫状態から導出されるアラートを表現
type StockAlert struct {
	ID              string          `json:"id" db:"id"`                             // アラートID
	InventoryID     string          `json:"inventory_id" db:"inventory_id"`         // 対象在庫記録ID
	Type            AlertType       `json:"type" db:"type"`                         // アラートタイプ
	Status          AlertStatus     `json:"status" db:"status"`                     // ステータス
	Message         string          `json:"message" db:"message"`                   // メッセージ
	CurrentQuantity decimal.Decimal `json:"current_quantity" db:"current_quantity"` // 検出時の数量
	Threshold       decimal.Decimal `json:"threshold" db:"threshold"`               // 閾値
	AcknowledgedBy  string          `json:"acknowledged_by" db:"acknowledged_by"`   // 確認者
	AcknowledgedAt  *time.Time      `json:"acknowledged_at" db:"acknowledged_at"`   // 確認日時
	ResolvedAt      *time.Time      `json:"resolved_at" db:"resolved_at"`           // 解決日時
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`             // 作成日時
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`             // 更新日時
}

// MovementRequest carries all inputs for one RecordMovement call
// RecordMovement 1回分の入力を保持
type MovementRequest struct {
	MovementType    MovementType    `json:"movement_type"`
	TransactionType TransactionType `json:"transaction_type"`
	ProductID       string          `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	FromWarehouseID string          `json:"from_warehouse_id,omitempty"`
	FromLocationID  string          `json:"from_location_id,omitempty"`
	ToWarehouseID   string          `json:"to_warehouse_id,omitempty"`
	ToLocationID    string          `json:"to_location_id,omitempty"`
	BatchNumber     string          `json:"batch_number,omitempty"`
	ExpiryDate      *time.Time      `json:"expiry_date,omitempty"`
	PartyName       string          `json:"party_name,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	MovementDate    time.Time       `json:"movement_date,omitempty"`
	RecordedBy      string          `json:"recorded_by,omitempty"`
	// ReferenceNumber is set only when retrying a request that already holds a
	// number; allocation is skipped in that case.
	// 既に番号を割り当て済みのリクエストを再試行する場合のみ設定し、採番をスキップ
	ReferenceNumber string `json:"reference_number,omitempty"`
}

// NewRecordID generates a new inventory record ID
// 新しい在庫記録IDを生成
func NewRecordID() string {
	return uuid.New().String()
}

// NewMovementID generates a new movement ID
// 新しい移動IDを生成
func NewMovementID() string {
	return uuid.New().String()
}

// NewAlertID generates a new alert ID
// 新しいアラートIDを生成
func NewAlertID() string {
	return uuid.New().String()
}

// AvailableQuantity returns quantity minus reserved quantity
// 利用可能数量を返す（数量 - 予約済み数量）
func (r *InventoryRecord) AvailableQuantity() decimal.Decimal {
	return r.Quantity.Sub(r.ReservedQuantity)
}

// IsLowStock reports whether quantity is at or below the product's reorder level
// 数量が商品の発注点以下かを判定
func (r *InventoryRecord) IsLowStock(product *Product) bool {
	return r.Quantity.Cmp(product.ReorderLevel) <= 0
}

// DaysUntilExpiry returns whole days until the expiry date, false when unset.
// Dates are compared by calendar day, not by clock time.
// 有効期限までの日数を返す（未設定の場合は false）。日付単位で比較する。
func (r *InventoryRecord) DaysUntilExpiry(now time.Time) (int, bool) {
	if r.ExpiryDate == nil {
		return 0, false
	}
	return daysBetween(now, *r.ExpiryDate), true
}

// IsExpired reports whether the record's expiry date has passed
// 有効期限が過ぎているかを判定
func (r *InventoryRecord) IsExpired(now time.Time) bool {
	days, ok := r.DaysUntilExpiry(now)
	return ok && days < 0
}

// IsExpiringSoon reports whether expiry falls within the warning window
// 有効期限が警告ウィンドウ内かを判定
func (r *InventoryRecord) IsExpiringSoon(now time.Time, windowDays int) bool {
	days, ok := r.DaysUntilExpiry(now)
	return ok && days >= 0 && days <= windowDays
}

// TotalValue returns inventory value at the product's purchase price
// 仕入単価ベースの在庫評価額を返す
func (r *InventoryRecord) TotalValue(product *Product) decimal.Decimal {
	return r.Quantity.Mul(product.PurchasePrice)
}

// PotentialRevenue returns inventory value at the product's selling price
// 販売単価ベースの見込売上額を返す
func (r *InventoryRecord) PotentialRevenue(product *Product) decimal.Decimal {
	return r.Quantity.Mul(product.SellingPrice)
}

// sortMovements orders movements by (movement_date, sequence), the total
// order used for replay
// 移動を (移動日時, 挿入順序) で並べ替える。リプレイで使う全順序
func sortMovements(movements []StockMovement) {
	sort.SliceStable(movements, func(i, j int) bool {
		if !movements[i].MovementDate.Equal(movements[j].MovementDate) {
			return movements[i].MovementDate.Before(movements[j].MovementDate)
		}
		return movements[i].Sequence < movements[j].Sequence
	})
}

// daysBetween returns the number of calendar days from a to b
// aからbまでの暦日数を返す
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}
