package ledger

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// 英数字、ハイフン、アンダースコアのみ許可
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateProductID 商品IDの形式をバリデーション
func ValidateProductID(productID string) error {
	if productID == "" {
		return NewValidationError("product_id", "商品IDが空です", productID)
	}
	if len(productID) > 255 {
		return NewValidationError("product_id", "商品IDが長すぎます", productID)
	}
	if !idPattern.MatchString(productID) {
		return NewValidationError("product_id", "商品IDに無効な文字が含まれています", productID)
	}
	return nil
}

// ValidateWarehouseID 倉庫IDの形式をバリデーション
func ValidateWarehouseID(field, warehouseID string) error {
	if warehouseID == "" {
		return NewValidationError(field, "倉庫IDが空です", warehouseID)
	}
	if len(warehouseID) > 255 {
		return NewValidationError(field, "倉庫IDが長すぎます", warehouseID)
	}
	if !idPattern.MatchString(warehouseID) {
		return NewValidationError(field, "倉庫IDに無効な文字が含まれています", warehouseID)
	}
	return nil
}

// ValidateBatchNumber バッチ番号の形式をバリデーション（任意フィールド）
func ValidateBatchNumber(batchNumber string) error {
	if batchNumber == "" {
		return nil // バッチ番号は任意
	}
	if len(batchNumber) > 100 {
		return NewValidationError("batch_number", "バッチ番号が長すぎます", batchNumber)
	}
	return nil
}

// ValidateQuantity 移動数量をバリデーション（常に正の値）
func ValidateQuantity(quantity decimal.Decimal) error {
	if quantity.Sign() <= 0 {
		return NewValidationError("quantity", "数量は正の値である必要があります", quantity.String())
	}
	return nil
}

// ValidateUnitPrice 単価をバリデーション（0以上）
func ValidateUnitPrice(unitPrice decimal.Decimal) error {
	if unitPrice.Sign() < 0 {
		return NewValidationError("unit_price", "単価は0以上である必要があります", unitPrice.String())
	}
	return nil
}

// ValidateMovementType 移動タイプをバリデーション
func ValidateMovementType(movementType MovementType) error {
	switch movementType {
	case MovementTypeIn, MovementTypeOut, MovementTypeTransfer, MovementTypeAdjustment:
		return nil
	default:
		return NewValidationError("movement_type", "無効な移動タイプです", string(movementType))
	}
}

// ValidateTransactionType 取引タイプをバリデーション
func ValidateTransactionType(transactionType TransactionType) error {
	switch transactionType {
	case TransactionTypePurchase, TransactionTypeSale, TransactionTypeReturn,
		TransactionTypeDamage, TransactionTypeWastage, TransactionTypeTransfer,
		TransactionTypeAdjustment, TransactionTypeOpening:
		return nil
	default:
		return NewValidationError("transaction_type", "無効な取引タイプです", string(transactionType))
	}
}

// ValidateMovementRequest validates a movement request per movement type
// 移動タイプごとの必須フィールドをバリデーション
func ValidateMovementRequest(req *MovementRequest) error {
	if req == nil {
		return NewValidationError("request", "リクエストが指定されていません", "nil")
	}

	if err := ValidateMovementType(req.MovementType); err != nil {
		return err
	}
	if err := ValidateTransactionType(req.TransactionType); err != nil {
		return err
	}
	if err := ValidateProductID(req.ProductID); err != nil {
		return err
	}
	if err := ValidateQuantity(req.Quantity); err != nil {
		return err
	}
	if err := ValidateUnitPrice(req.UnitPrice); err != nil {
		return err
	}
	if err := ValidateBatchNumber(req.BatchNumber); err != nil {
		return err
	}

	// タイプごとの倉庫フィールドチェック
	switch req.MovementType {
	case MovementTypeIn:
		if err := ValidateWarehouseID("to_warehouse_id", req.ToWarehouseID); err != nil {
			return err
		}
	case MovementTypeOut:
		if err := ValidateWarehouseID("from_warehouse_id", req.FromWarehouseID); err != nil {
			return err
		}
	case MovementTypeTransfer:
		if err := ValidateWarehouseID("from_warehouse_id", req.FromWarehouseID); err != nil {
			return err
		}
		if err := ValidateWarehouseID("to_warehouse_id", req.ToWarehouseID); err != nil {
			return err
		}
		if req.FromWarehouseID == req.ToWarehouseID {
			return NewValidationError("to_warehouse_id", "移動元と移動先の倉庫が同じです", req.ToWarehouseID)
		}
	case MovementTypeAdjustment:
		if err := ValidateWarehouseID("to_warehouse_id", req.ToWarehouseID); err != nil {
			return err
		}
	}

	return nil
}

// ValidateProduct 商品マスタをバリデーション
func ValidateProduct(product *Product) error {
	if product == nil {
		return NewValidationError("product", "商品が指定されていません", "nil")
	}
	if err := ValidateProductID(product.ID); err != nil {
		return err
	}
	if strings.TrimSpace(product.Name) == "" {
		return NewValidationError("name", "商品名が空です", product.Name)
	}
	if product.PurchasePrice.Sign() < 0 {
		return NewValidationError("purchase_price", "仕入単価は0以上である必要があります", product.PurchasePrice.String())
	}
	if product.SellingPrice.Sign() < 0 {
		return NewValidationError("selling_price", "販売単価は0以上である必要があります", product.SellingPrice.String())
	}
	if product.ReorderLevel.Sign() < 0 {
		return NewValidationError("reorder_level", "発注点は0以上である必要があります", product.ReorderLevel.String())
	}
	if product.ShelfLifeDays != nil && *product.ShelfLifeDays < 1 {
		return NewValidationError("shelf_life_days", "賞味期限日数は1以上である必要があります", "")
	}
	return nil
}

// ValidateWarehouse 倉庫マスタをバリデーション
func ValidateWarehouse(warehouse *Warehouse) error {
	if warehouse == nil {
		return NewValidationError("warehouse", "倉庫が指定されていません", "nil")
	}
	if err := ValidateWarehouseID("id", warehouse.ID); err != nil {
		return err
	}
	if strings.TrimSpace(warehouse.Name) == "" {
		return NewValidationError("name", "倉庫名が空です", warehouse.Name)
	}
	if strings.TrimSpace(warehouse.Code) == "" {
		return NewValidationError("code", "倉庫コードが空です", warehouse.Code)
	}
	return nil
}

// ValidateStorageLocation 保管ロケーションマスタをバリデーション
func ValidateStorageLocation(location *StorageLocation) error {
	if location == nil {
		return NewValidationError("location", "ロケーションが指定されていません", "nil")
	}
	if location.ID == "" {
		return NewValidationError("id", "ロケーションIDが空です", location.ID)
	}
	if !idPattern.MatchString(location.ID) {
		return NewValidationError("id", "ロケーションIDに無効な文字が含まれています", location.ID)
	}
	if err := ValidateWarehouseID("warehouse_id", location.WarehouseID); err != nil {
		return err
	}
	return nil
}
