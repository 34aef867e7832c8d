package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validRequest(movementType MovementType) MovementRequest {
	req := MovementRequest{
		ProductID:       "PROD-001",
		MovementType:    movementType,
		TransactionType: TransactionTypeAdjustment,
		Quantity:        decimal.NewFromInt(10),
		UnitPrice:       decimal.NewFromInt(500),
		RecordedBy:      "tester",
	}
	switch movementType {
	case MovementTypeIn, MovementTypeAdjustment:
		req.ToWarehouseID = "WH-01"
	case MovementTypeOut:
		req.FromWarehouseID = "WH-01"
	case MovementTypeTransfer:
		req.FromWarehouseID = "WH-01"
		req.ToWarehouseID = "WH-02"
	}
	return req
}

// TestValidateMovementRequest_WarehouseFields は移動タイプごとの倉庫必須チェックのテスト
func TestValidateMovementRequest_WarehouseFields(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*MovementRequest)
		wantErr bool
		field   string
	}{
		{
			name:   "入庫は移動先倉庫のみ必須",
			modify: func(req *MovementRequest) {},
		},
		{
			name: "入庫で移動先倉庫なし",
			modify: func(req *MovementRequest) {
				req.ToWarehouseID = ""
			},
			wantErr: true,
			field:   "to_warehouse_id",
		},
		{
			name: "出庫で移動元倉庫なし",
			modify: func(req *MovementRequest) {
				req.MovementType = MovementTypeOut
				req.FromWarehouseID = ""
				req.ToWarehouseID = ""
			},
			wantErr: true,
			field:   "from_warehouse_id",
		},
		{
			name: "移動で移動元と移動先が同一",
			modify: func(req *MovementRequest) {
				req.MovementType = MovementTypeTransfer
				req.FromWarehouseID = "WH-01"
				req.ToWarehouseID = "WH-01"
			},
			wantErr: true,
			field:   "to_warehouse_id",
		},
		{
			name: "移動で両倉庫あり",
			modify: func(req *MovementRequest) {
				req.MovementType = MovementTypeTransfer
				req.FromWarehouseID = "WH-01"
				req.ToWarehouseID = "WH-02"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest(MovementTypeIn)
			tt.modify(&req)

			err := ValidateMovementRequest(&req)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			var verr *ValidationError
			if assert.ErrorAs(t, err, &verr) {
				assert.Equal(t, tt.field, verr.Field)
			}
		})
	}
}

// TestValidateMovementRequest_Quantity は数量バリデーションのテスト
func TestValidateMovementRequest_Quantity(t *testing.T) {
	req := validRequest(MovementTypeIn)
	req.Quantity = decimal.Zero
	assert.Error(t, ValidateMovementRequest(&req))

	req.Quantity = decimal.NewFromInt(-5)
	assert.Error(t, ValidateMovementRequest(&req))

	req.Quantity = decimal.NewFromFloat(0.5)
	assert.NoError(t, ValidateMovementRequest(&req))
}

// TestValidateMovementRequest_InvalidTypes は無効タイプのテスト
func TestValidateMovementRequest_InvalidTypes(t *testing.T) {
	req := validRequest(MovementTypeIn)
	req.MovementType = MovementType("UNKNOWN")
	assert.Error(t, ValidateMovementRequest(&req))

	req = validRequest(MovementTypeIn)
	req.TransactionType = TransactionType("GIFT")
	assert.Error(t, ValidateMovementRequest(&req))

	assert.Error(t, ValidateMovementRequest(nil))
}

// TestValidateProductID はID形式のテスト
func TestValidateProductID(t *testing.T) {
	assert.NoError(t, ValidateProductID("PROD-001"))
	assert.NoError(t, ValidateProductID("prod_001"))
	assert.Error(t, ValidateProductID(""))
	assert.Error(t, ValidateProductID("PROD 001"))
	assert.Error(t, ValidateProductID("商品001"))
}

// TestValidateUnitPrice は単価バリデーションのテスト
func TestValidateUnitPrice(t *testing.T) {
	assert.NoError(t, ValidateUnitPrice(decimal.Zero))
	assert.NoError(t, ValidateUnitPrice(decimal.NewFromInt(100)))
	assert.Error(t, ValidateUnitPrice(decimal.NewFromInt(-1)))
}

// TestValidateProduct は商品マスタバリデーションのテスト
func TestValidateProduct(t *testing.T) {
	shelfLife := 0
	tests := []struct {
		name    string
		product *Product
		wantErr bool
	}{
		{
			name: "有効な商品",
			product: &Product{
				ID:            "PROD-001",
				Name:          "テスト商品",
				PurchasePrice: decimal.NewFromInt(100),
				SellingPrice:  decimal.NewFromInt(150),
				ReorderLevel:  decimal.NewFromInt(10),
			},
		},
		{
			name:    "nil商品",
			product: nil,
			wantErr: true,
		},
		{
			name: "商品名が空",
			product: &Product{
				ID:   "PROD-001",
				Name: "  ",
			},
			wantErr: true,
		},
		{
			name: "負の発注点",
			product: &Product{
				ID:           "PROD-001",
				Name:         "テスト商品",
				ReorderLevel: decimal.NewFromInt(-1),
			},
			wantErr: true,
		},
		{
			name: "賞味期限日数が0",
			product: &Product{
				ID:            "PROD-001",
				Name:          "テスト商品",
				ShelfLifeDays: &shelfLife,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProduct(tt.product)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestValidateWarehouse は倉庫マスタバリデーションのテスト
func TestValidateWarehouse(t *testing.T) {
	assert.NoError(t, ValidateWarehouse(&Warehouse{ID: "WH-01", Name: "東京倉庫", Code: "TKY"}))
	assert.Error(t, ValidateWarehouse(nil))
	assert.Error(t, ValidateWarehouse(&Warehouse{ID: "WH-01", Name: "", Code: "TKY"}))
	assert.Error(t, ValidateWarehouse(&Warehouse{ID: "WH-01", Name: "東京倉庫", Code: ""}))
}

// TestValidateStorageLocation はロケーションバリデーションのテスト
func TestValidateStorageLocation(t *testing.T) {
	assert.NoError(t, ValidateStorageLocation(&StorageLocation{ID: "LOC-A-01", WarehouseID: "WH-01"}))
	assert.Error(t, ValidateStorageLocation(nil))
	assert.Error(t, ValidateStorageLocation(&StorageLocation{ID: "", WarehouseID: "WH-01"}))
	assert.Error(t, ValidateStorageLocation(&StorageLocation{ID: "LOC A", WarehouseID: "WH-01"}))
	assert.Error(t, ValidateStorageLocation(&StorageLocation{ID: "LOC-A-01", WarehouseID: ""}))
}
