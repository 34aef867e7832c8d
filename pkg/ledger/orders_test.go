package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemonet1337/zaikoLedger/pkg/ledger"
)

// TestService_ApplyPurchaseReceipt は発注入荷の適用のテスト
func TestService_ApplyPurchaseReceipt(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	receipt := ledger.PurchaseReceipt{
		OrderNumber:  "PO-2026-0001",
		SupplierName: "サンプル仕入先",
		WarehouseID:  "WH-01",
		ReceivedBy:   "receiver",
		Lines: []ledger.OrderLine{
			{ProductID: "PROD-001", Quantity: decimal.NewFromInt(100), UnitPrice: decimal.NewFromInt(100)},
			{ProductID: "PROD-002", Quantity: decimal.NewFromInt(50), UnitPrice: decimal.NewFromInt(120), BatchNumber: "LOT-B1"},
		},
	}

	movements, err := service.ApplyPurchaseReceipt(ctx, receipt)
	require.NoError(t, err)
	require.Len(t, movements, 2)

	// 参照番号は注文番号から導出される
	assert.Equal(t, "PO-2026-0001-01", movements[0].ReferenceNumber)
	assert.Equal(t, "PO-2026-0001-02", movements[1].ReferenceNumber)
	assert.Equal(t, "サンプル仕入先", movements[0].PartyName)

	rec1, err := service.GetInventory(ctx, "PROD-001", "WH-01", "")
	require.NoError(t, err)
	assert.Equal(t, "100", rec1.Quantity.String())

	rec2, err := service.GetInventory(ctx, "PROD-002", "WH-01", "LOT-B1")
	require.NoError(t, err)
	assert.Equal(t, "50", rec2.Quantity.String())
}

// TestService_ApplyPurchaseReceipt_Duplicate は発注の二重適用拒否のテスト
func TestService_ApplyPurchaseReceipt_Duplicate(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	receipt := ledger.PurchaseReceipt{
		OrderNumber: "PO-2026-0002",
		WarehouseID: "WH-01",
		ReceivedBy:  "receiver",
		Lines: []ledger.OrderLine{
			{ProductID: "PROD-001", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(100)},
		},
	}

	_, err := service.ApplyPurchaseReceipt(ctx, receipt)
	require.NoError(t, err)

	// 同じ発注の再適用はビジネスルール違反であり、在庫は二重計上されない
	_, err = service.ApplyPurchaseReceipt(ctx, receipt)
	var berr *ledger.BusinessRuleError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "order_already_applied", berr.Rule)

	record, err := service.GetInventory(ctx, "PROD-001", "WH-01", "")
	require.NoError(t, err)
	assert.Equal(t, "10", record.Quantity.String())
}

// TestService_ApplySalesShipment は受注出荷の適用のテスト
func TestService_ApplySalesShipment(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.RecordMovement(ctx, inRequest("PROD-001", "WH-01", 100))
	require.NoError(t, err)
	_, err = service.RecordMovement(ctx, inRequest("PROD-002", "WH-01", 40))
	require.NoError(t, err)

	shipment := ledger.SalesShipment{
		OrderNumber:  "SO-2026-0001",
		CustomerName: "サンプル顧客",
		WarehouseID:  "WH-01",
		ShippedBy:    "shipper",
		Lines: []ledger.OrderLine{
			{ProductID: "PROD-001", Quantity: decimal.NewFromInt(30), UnitPrice: decimal.NewFromInt(150)},
			{ProductID: "PROD-002", Quantity: decimal.NewFromInt(20), UnitPrice: decimal.NewFromInt(180)},
		},
	}

	movements, err := service.ApplySalesShipment(ctx, shipment)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, ledger.MovementTypeOut, movements[0].MovementType)
	assert.Equal(t, "SO-2026-0001-01", movements[0].ReferenceNumber)

	rec1, err := service.GetInventory(ctx, "PROD-001", "WH-01", "")
	require.NoError(t, err)
	assert.Equal(t, "70", rec1.Quantity.String())

	rec2, err := service.GetInventory(ctx, "PROD-002", "WH-01", "")
	require.NoError(t, err)
	assert.Equal(t, "20", rec2.Quantity.String())
}

// TestService_ApplySalesShipment_Atomicity は出荷全体の原子性のテスト
func TestService_ApplySalesShipment_Atomicity(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.RecordMovement(ctx, inRequest("PROD-001", "WH-01", 100))
	require.NoError(t, err)
	_, err = service.RecordMovement(ctx, inRequest("PROD-002", "WH-01", 5))
	require.NoError(t, err)

	shipment := ledger.SalesShipment{
		OrderNumber: "SO-2026-0002",
		WarehouseID: "WH-01",
		ShippedBy:   "shipper",
		Lines: []ledger.OrderLine{
			{ProductID: "PROD-001", Quantity: decimal.NewFromInt(30), UnitPrice: decimal.NewFromInt(150)},
			// 在庫5に対する出荷10は不足
			{ProductID: "PROD-002", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(180)},
		},
	}

	_, err = service.ApplySalesShipment(ctx, shipment)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	// 1行でも不足があれば、どの行も差し引かれない
	rec1, err := service.GetInventory(ctx, "PROD-001", "WH-01", "")
	require.NoError(t, err)
	assert.Equal(t, "100", rec1.Quantity.String())

	rec2, err := service.GetInventory(ctx, "PROD-002", "WH-01", "")
	require.NoError(t, err)
	assert.Equal(t, "5", rec2.Quantity.String())
}

// TestService_ApplyOrder_Validation は注文バリデーションのテスト
func TestService_ApplyOrder_Validation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	// 注文番号なし
	_, err := service.ApplyPurchaseReceipt(ctx, ledger.PurchaseReceipt{
		WarehouseID: "WH-01",
		Lines: []ledger.OrderLine{
			{ProductID: "PROD-001", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(100)},
		},
	})
	assert.Error(t, err)

	// 明細行なし
	_, err = service.ApplyPurchaseReceipt(ctx, ledger.PurchaseReceipt{
		OrderNumber: "PO-2026-0003",
		WarehouseID: "WH-01",
	})
	assert.Error(t, err)

	// 未登録商品を含む注文は適用前に拒否される
	_, err = service.ApplyPurchaseReceipt(ctx, ledger.PurchaseReceipt{
		OrderNumber: "PO-2026-0004",
		WarehouseID: "WH-01",
		Lines: []ledger.OrderLine{
			{ProductID: "PROD-999", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(100)},
		},
	})
	assert.ErrorIs(t, err, ledger.ErrProductNotFound)
}
