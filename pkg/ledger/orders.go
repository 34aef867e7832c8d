package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderLine is one product line of a purchase receipt or sales shipment
// 受発注の明細行1件を表現
type OrderLine struct {
	ProductID   string          `json:"product_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	BatchNumber string          `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	LocationID  string          `json:"location_id,omitempty"`
}

// PurchaseReceipt marks a purchase order as received: every line becomes one
// IN movement, all committed as a single atomic unit.
// 発注の入荷を記録する。各明細行が1件のIN移動になり、全体が単一の
// アトミック単位としてコミットされる
type PurchaseReceipt struct {
	OrderNumber  string      `json:"order_number"`  // 発注番号（例：PO-20260830-0001）
	SupplierName string      `json:"supplier_name"` // 仕入先名
	WarehouseID  string      `json:"warehouse_id"`  // 入庫先倉庫
	Lines        []OrderLine `json:"lines"`         // 明細行
	ReceivedBy   string      `json:"received_by"`   // 受領者
	ReceivedAt   time.Time   `json:"received_at"`   // 受領日時（ゼロ値は現在時刻）
}

// SalesShipment marks a sales order as shipped: every line becomes one OUT
// movement, all committed as a single atomic unit.
// 受注の出荷を記録する。各明細行が1件のOUT移動になり、全体が単一の
// アトミック単位としてコミットされる
type SalesShipment struct {
	OrderNumber  string      `json:"order_number"`  // 受注番号（例：SO-20260830-0001）
	CustomerName string      `json:"customer_name"` // 顧客名
	WarehouseID  string      `json:"warehouse_id"`  // 出庫元倉庫
	Lines        []OrderLine `json:"lines"`         // 明細行
	ShippedBy    string      `json:"shipped_by"`    // 出荷者
	ShippedAt    time.Time   `json:"shipped_at"`    // 出荷日時（ゼロ値は現在時刻）
}

// ApplyPurchaseReceipt applies all lines of a received purchase order.
// References derive from the order number, so applying the same order twice
// fails as a business rule violation instead of double-counting stock.
// 入荷した発注のすべての明細行を適用する。参照番号は発注番号から導出される
// ため、同じ発注を二重適用してもビジネスルール違反となり在庫は二重計上されない
func (s *Service) ApplyPurchaseReceipt(ctx context.Context, receipt PurchaseReceipt) ([]StockMovement, error) {
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now()
	}
	requests, err := s.orderRequests(ctx, receipt.OrderNumber, receipt.WarehouseID, receipt.Lines, orderContext{
		movementType:    MovementTypeIn,
		transactionType: TransactionTypePurchase,
		partyName:       receipt.SupplierName,
		recordedBy:      receipt.ReceivedBy,
		movementDate:    receipt.ReceivedAt,
	})
	if err != nil {
		return nil, err
	}

	movements, err := s.applyOrder(ctx, receipt.OrderNumber, requests)
	if err != nil {
		return nil, err
	}

	s.logger.Info("発注の入荷を記録しました",
		zap.String("order_number", receipt.OrderNumber),
		zap.String("warehouse_id", receipt.WarehouseID),
		zap.Int("lines", len(movements)),
	)
	return movements, nil
}

// ApplySalesShipment applies all lines of a shipped sales order. If any line
// lacks stock the whole shipment is rejected and nothing is deducted.
// 出荷した受注のすべての明細行を適用する。1行でも在庫不足があれば
// 出荷全体が拒否され、何も差し引かれない
func (s *Service) ApplySalesShipment(ctx context.Context, shipment SalesShipment) ([]StockMovement, error) {
	if shipment.ShippedAt.IsZero() {
		shipment.ShippedAt = time.Now()
	}
	requests, err := s.orderRequests(ctx, shipment.OrderNumber, shipment.WarehouseID, shipment.Lines, orderContext{
		movementType:    MovementTypeOut,
		transactionType: TransactionTypeSale,
		partyName:       shipment.CustomerName,
		recordedBy:      shipment.ShippedBy,
		movementDate:    shipment.ShippedAt,
	})
	if err != nil {
		return nil, err
	}

	movements, err := s.applyOrder(ctx, shipment.OrderNumber, requests)
	if err != nil {
		return nil, err
	}

	s.logger.Info("受注の出荷を記録しました",
		zap.String("order_number", shipment.OrderNumber),
		zap.String("warehouse_id", shipment.WarehouseID),
		zap.Int("lines", len(movements)),
	)
	return movements, nil
}

// orderContext carries the per-order constants shared by all lines
// 全明細行で共通の注文単位の値を保持
type orderContext struct {
	movementType    MovementType
	transactionType TransactionType
	partyName       string
	recordedBy      string
	movementDate    time.Time
}

// orderRequests validates an order and expands its lines into movement requests
// 注文をバリデーションし、明細行を移動リクエストに展開
func (s *Service) orderRequests(ctx context.Context, orderNumber, warehouseID string, lines []OrderLine, oc orderContext) ([]MovementRequest, error) {
	if orderNumber == "" {
		return nil, NewValidationError("order_number", "注文番号は必須です", "")
	}
	if len(lines) == 0 {
		return nil, NewValidationError("lines", "明細行が1件以上必要です", "")
	}
	if err := ValidateWarehouseID("warehouse_id", warehouseID); err != nil {
		return nil, err
	}

	requests := make([]MovementRequest, 0, len(lines))
	for i, line := range lines {
		req := MovementRequest{
			MovementType:    oc.movementType,
			TransactionType: oc.transactionType,
			ProductID:       line.ProductID,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			BatchNumber:     line.BatchNumber,
			ExpiryDate:      line.ExpiryDate,
			PartyName:       oc.partyName,
			MovementDate:    oc.movementDate,
			RecordedBy:      oc.recordedBy,
			// 注文番号から導出した参照番号。二重適用の防波堤になる
			ReferenceNumber: fmt.Sprintf("%s-%02d", orderNumber, i+1),
		}
		switch oc.movementType {
		case MovementTypeIn:
			req.ToWarehouseID = warehouseID
			req.ToLocationID = line.LocationID
		case MovementTypeOut:
			req.FromWarehouseID = warehouseID
			req.FromLocationID = line.LocationID
		}

		if err := ValidateMovementRequest(&req); err != nil {
			return nil, err
		}
		if err := s.validateMasterData(ctx, &req); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// applyOrder commits all line movements of one order in a single transaction
// 1つの注文の全明細移動を単一トランザクションでコミット
func (s *Service) applyOrder(ctx context.Context, orderNumber string, requests []MovementRequest) ([]StockMovement, error) {
	started := time.Now()

	keys := make([]RecordKey, 0, len(requests))
	movements := make([]*StockMovement, 0, len(requests))
	for i := range requests {
		req := &requests[i]
		keys = append(keys, affectedKeys(req)...)
		movements = append(movements, buildMovement(req, req.ReferenceNumber, req.Quantity.Mul(req.UnitPrice)))
	}

	var changes []StockChangedEvent
	err := s.storage.Transact(ctx, keys, func(tx Tx) error {
		changes = changes[:0]
		for i := range requests {
			applied, err := s.applyTransitions(tx, &requests[i], movements[i])
			if err != nil {
				return err
			}
			changes = append(changes, applied...)
			if err := tx.AppendMovement(movements[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateReference) {
		observeMovementFailure(err)
		return nil, NewBusinessRuleError("order_already_applied",
			"この注文は既に適用されています",
			fmt.Sprintf("order_number=%s", orderNumber))
	}
	if err != nil {
		observeMovementFailure(err)
		return nil, err
	}

	result := make([]StockMovement, 0, len(movements))
	for i := range requests {
		s.afterCommit(ctx, &requests[i], movements[i], affectedKeys(&requests[i]), nil)
		observeMovement(movements[i].MovementType, started)
		result = append(result, *movements[i])
	}
	if s.publisher != nil {
		for _, event := range changes {
			if err := s.publisher.PublishStockChanged(ctx, event); err != nil {
				s.logger.Error("在庫変更イベントの発行に失敗しました", zap.Error(err))
			}
		}
	}
	return result, nil
}
