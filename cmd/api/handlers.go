package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaikoLedger/pkg/ledger"
)

// Handlers holds HTTP handlers for the ledger API
// 台帳API用のHTTPハンドラーを保持
type Handlers struct {
	service ledger.Ledger
	alerts  ledger.AlertManager
	storage ledger.Storage
	logger  *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(service ledger.Ledger, alerts ledger.AlertManager, storage ledger.Storage, logger *zap.Logger) *Handlers {
	return &Handlers{
		service: service,
		alerts:  alerts,
		storage: storage,
		logger:  logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ReservationRequest represents a reserve or release request
// 予約・予約解除リクエストを表現
type ReservationRequest struct {
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	BatchNumber string `json:"batch_number,omitempty"`
	Quantity    string `json:"quantity"`
}

// AcknowledgeRequest carries the acknowledging user
// アラート確認者を保持
type AcknowledgeRequest struct {
	UserID string `json:"user_id"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.Ping(r.Context()); err != nil {
		h.sendError(w, http.StatusServiceUnavailable, "ストレージに接続できません")
		return
	}

	h.sendSuccess(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "zaikoLedger",
	})
}

// RecordMovement handles movement recording requests
// 在庫移動の記録リクエストを処理
func (h *Handlers) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var req ledger.MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	movement, err := h.service.RecordMovement(r.Context(), req)
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, movement)
}

// ListMovements handles ledger history requests
// 台帳履歴の取得リクエストを処理
func (h *Handlers) ListMovements(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			h.sendError(w, http.StatusBadRequest, "無効なlimitパラメータです")
			return
		}
		limit = parsed
	}

	movements, err := h.service.ListMovements(r.Context(), limit)
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, movements)
}

// GetInventory handles single-record inventory queries
// 在庫記録1件の照会リクエストを処理
func (h *Handlers) GetInventory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	batch := r.URL.Query().Get("batch")

	record, err := h.service.GetInventory(r.Context(), vars["productId"], vars["warehouseId"], batch)
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, record)
}

// ListInventory handles full inventory listing
// 在庫一覧の取得リクエストを処理
func (h *Handlers) ListInventory(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListInventory(r.Context())
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, records)
}

// ReserveStock handles reservation requests
// 在庫予約リクエストを処理
func (h *Handlers) ReserveStock(w http.ResponseWriter, r *http.Request) {
	key, quantity, ok := h.decodeReservation(w, r)
	if !ok {
		return
	}

	record, err := h.service.Reserve(r.Context(), key, quantity)
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, record)
}

// ReleaseReservation handles reservation release requests
// 在庫予約の解除リクエストを処理
func (h *Handlers) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	key, quantity, ok := h.decodeReservation(w, r)
	if !ok {
		return
	}

	record, err := h.service.ReleaseReservation(r.Context(), key, quantity)
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, record)
}

func (h *Handlers) decodeReservation(w http.ResponseWriter, r *http.Request) (ledger.RecordKey, decimal.Decimal, bool) {
	var req ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return ledger.RecordKey{}, decimal.Zero, false
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "無効な数量です")
		return ledger.RecordKey{}, decimal.Zero, false
	}

	key := ledger.NewRecordKey(req.ProductID, req.WarehouseID, req.BatchNumber)
	return key, quantity, true
}

// ApplyPurchaseReceipt handles purchase order receipt requests
// 発注入荷リクエストを処理
func (h *Handlers) ApplyPurchaseReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt ledger.PurchaseReceipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	movements, err := h.service.ApplyPurchaseReceipt(r.Context(), receipt)
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, movements)
}

// ApplySalesShipment handles sales order shipment requests
// 受注出荷リクエストを処理
func (h *Handlers) ApplySalesShipment(w http.ResponseWriter, r *http.Request) {
	var shipment ledger.SalesShipment
	if err := json.NewDecoder(r.Body).Decode(&shipment); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}

	movements, err := h.service.ApplySalesShipment(r.Context(), shipment)
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, movements)
}

// GetAlerts handles alert listing requests
// アラート一覧の取得リクエストを処理
func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	status := ledger.AlertStatus(r.URL.Query().Get("status"))

	alerts, err := h.alerts.ListAlerts(r.Context(), status)
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, alerts)
}

// AcknowledgeAlert handles alert acknowledgement requests
// アラート確認リクエストを処理
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req AcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if req.UserID == "" {
		h.sendError(w, http.StatusBadRequest, "user_idは必須です")
		return
	}

	alert, err := h.alerts.Acknowledge(r.Context(), vars["alertId"], req.UserID)
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, alert)
}

// ResolveAlert handles alert resolution requests
// アラート解決リクエストを処理
func (h *Handlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	alert, err := h.alerts.Resolve(r.Context(), vars["alertId"])
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, alert)
}

// CreateProduct handles product creation requests
// 商品作成リクエストを処理
func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var product ledger.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if err := ledger.ValidateProduct(&product); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now
	if err := h.storage.CreateProduct(r.Context(), &product); err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendCreated(w, product)
}

// GetProduct handles product retrieval requests
// 商品取得リクエストを処理
func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	product, err := h.storage.GetProduct(r.Context(), vars["productId"])
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, product)
}

// CreateWarehouse handles warehouse creation requests
// 倉庫作成リクエストを処理
func (h *Handlers) CreateWarehouse(w http.ResponseWriter, r *http.Request) {
	var warehouse ledger.Warehouse
	if err := json.NewDecoder(r.Body).Decode(&warehouse); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if err := ledger.ValidateWarehouse(&warehouse); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	warehouse.CreatedAt = now
	warehouse.UpdatedAt = now
	if err := h.storage.CreateWarehouse(r.Context(), &warehouse); err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendCreated(w, warehouse)
}

// GetWarehouse handles warehouse retrieval requests
// 倉庫取得リクエストを処理
func (h *Handlers) GetWarehouse(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	warehouse, err := h.storage.GetWarehouse(r.Context(), vars["warehouseId"])
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, warehouse)
}

// CreateLocation handles storage location creation requests
// 保管ロケーション作成リクエストを処理
func (h *Handlers) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var location ledger.StorageLocation
	if err := json.NewDecoder(r.Body).Decode(&location); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if err := ledger.ValidateStorageLocation(&location); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	location.CreatedAt = now
	location.UpdatedAt = now
	if err := h.storage.CreateLocation(r.Context(), &location); err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendCreated(w, location)
}

// GetLocation handles storage location retrieval requests
// 保管ロケーション取得リクエストを処理
func (h *Handlers) GetLocation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	location, err := h.storage.GetLocation(r.Context(), vars["locationId"])
	if err != nil {
		h.sendError(w, statusForError(err), err.Error())
		return
	}
	h.sendSuccess(w, location)
}

// statusForError maps ledger errors to HTTP status codes
// 台帳エラーをHTTPステータスコードに対応付け
func statusForError(err error) int {
	var validationErr *ledger.ValidationError
	var businessErr *ledger.BusinessRuleError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrProductNotFound),
		errors.Is(err, ledger.ErrWarehouseNotFound),
		errors.Is(err, ledger.ErrLocationNotFound),
		errors.Is(err, ledger.ErrRecordNotFound),
		errors.Is(err, ledger.ErrMovementNotFound),
		errors.Is(err, ledger.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrInsufficientReservation),
		errors.Is(err, ledger.ErrDuplicateProduct),
		errors.Is(err, ledger.ErrDuplicateWarehouse),
		errors.Is(err, ledger.ErrDuplicateLocation),
		errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &businessErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendSuccess sends a successful API response
// 成功レスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

// sendCreated sends a 201 API response
// 201レスポンスを送信
func (h *Handlers) sendCreated(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

// sendError sends an error API response
// エラーレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
}
