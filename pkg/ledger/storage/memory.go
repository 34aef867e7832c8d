// Package storage provides the persistence backends for the stock ledger:
// an in-memory store for tests and embedded use, and a PostgreSQL store.
// 在庫台帳の永続化バックエンドを提供：テスト・組込み用のインメモリストアと
// PostgreSQLストア
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nemonet1337/zaikoLedger/pkg/ledger"
)

// MemoryStore implements the Storage interface in process memory.
// Transact serializes writers per inventory key with one-slot semaphores;
// lock waits are bounded so contended callers fail fast with ErrConflict
// instead of deadlocking.
// Storageインターフェースのインメモリ実装。
// Transactは1スロットのセマフォで在庫キーごとに書き込みを直列化する。
// ロック待ちには上限があり、競合した呼び出しはデッドロックせず
// ErrConflictで早期に失敗する
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[ledger.RecordKey]ledger.InventoryRecord
	movements   []ledger.StockMovement
	byReference map[string]int // 参照番号 → movementsインデックス
	sequences   map[string]int // "prefix-YYYYMMDD" → 採番済み連番
	products    map[string]ledger.Product
	warehouses  map[string]ledger.Warehouse
	locations   map[string]ledger.StorageLocation
	alerts      map[string]ledger.StockAlert
	locks       map[ledger.RecordKey]chan struct{}
	nextSeq     int64 // 台帳の挿入順序
	closed      bool

	lockTimeout time.Duration
}

// インターフェース実装の確認
var _ ledger.Storage = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
// 空のインメモリストアを作成
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[ledger.RecordKey]ledger.InventoryRecord),
		byReference: make(map[string]int),
		sequences:   make(map[string]int),
		products:    make(map[string]ledger.Product),
		warehouses:  make(map[string]ledger.Warehouse),
		locations:   make(map[string]ledger.StorageLocation),
		alerts:      make(map[string]ledger.StockAlert),
		locks:       make(map[ledger.RecordKey]chan struct{}),
		lockTimeout: 2 * time.Second,
	}
}

// memoryTx stages mutations until the whole unit commits
// 単位全体がコミットされるまで変更をステージング
type memoryTx struct {
	store     *MemoryStore
	locked    map[ledger.RecordKey]bool
	staged    map[ledger.RecordKey]*ledger.InventoryRecord
	dirty     map[ledger.RecordKey]bool
	movements []*ledger.StockMovement
	occupied  map[string]bool
}

var _ ledger.Tx = (*memoryTx)(nil)

// Transact runs fn under exclusive per-key locks and commits its mutations
// atomically. Keys are deduplicated and acquired in sorted order so two
// transactions over overlapping key sets can never deadlock.
// キーごとの排他ロック下でfnを実行し、変更をアトミックにコミットする。
// キーは重複排除のうえソート順で獲得するため、キー集合が重なる
// トランザクション同士がデッドロックすることはない
func (m *MemoryStore) Transact(ctx context.Context, keys []ledger.RecordKey, fn func(tx ledger.Tx) error) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	ordered := dedupeKeys(keys)
	acquired := make([]chan struct{}, 0, len(ordered))
	for _, key := range ordered {
		sem := m.lockFor(key)
		select {
		case sem <- struct{}{}:
			acquired = append(acquired, sem)
		case <-time.After(m.lockTimeout):
			releaseAll(acquired)
			return ledger.ErrConflict
		case <-ctx.Done():
			releaseAll(acquired)
			return ctx.Err()
		}
	}
	defer releaseAll(acquired)

	tx := &memoryTx{
		store:    m,
		locked:   make(map[ledger.RecordKey]bool, len(ordered)),
		staged:   make(map[ledger.RecordKey]*ledger.InventoryRecord),
		dirty:    make(map[ledger.RecordKey]bool),
		occupied: make(map[string]bool),
	}
	for _, key := range ordered {
		tx.locked[key] = true
	}

	if err := fn(tx); err != nil {
		return err
	}

	return m.commit(tx)
}

// commit makes all staged mutations visible as one unit
// ステージング済みの変更を一括で可視化
func (m *MemoryStore) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ledger.ErrStoreClosed
	}

	// 参照番号の一意性はコミット境界で検査する
	for _, movement := range tx.movements {
		if _, exists := m.byReference[movement.ReferenceNumber]; exists {
			return ledger.ErrDuplicateReference
		}
	}

	for key := range tx.dirty {
		m.records[key] = *tx.staged[key]
	}
	for _, movement := range tx.movements {
		m.nextSeq++
		movement.Sequence = m.nextSeq
		movement.CreatedAt = time.Now()
		m.byReference[movement.ReferenceNumber] = len(m.movements)
		m.movements = append(m.movements, *movement)
	}
	for locationID, occupied := range tx.occupied {
		location := m.locations[locationID]
		location.IsOccupied = occupied
		location.UpdatedAt = time.Now()
		m.locations[locationID] = location
	}
	return nil
}

// Fetch returns the working copy of a locked record
// ロック済みキーの在庫記録の作業コピーを返す
func (tx *memoryTx) Fetch(key ledger.RecordKey) (*ledger.InventoryRecord, error) {
	if !tx.locked[key] {
		return nil, ledger.NewStorageError("fetch", "ロックされていないキーへのアクセスです", nil)
	}
	if staged, ok := tx.staged[key]; ok {
		return staged, nil
	}

	tx.store.mu.RLock()
	record, ok := tx.store.records[key]
	tx.store.mu.RUnlock()
	if !ok {
		return nil, ledger.ErrRecordNotFound
	}

	copied := record
	tx.staged[key] = &copied
	return &copied, nil
}

// Put stages a record mutation
// 在庫記録の変更をステージング
func (tx *memoryTx) Put(record *ledger.InventoryRecord) error {
	if !tx.locked[record.Key] {
		return ledger.NewStorageError("put", "ロックされていないキーへのアクセスです", nil)
	}
	tx.staged[record.Key] = record
	tx.dirty[record.Key] = true
	return nil
}

// AppendMovement stages a ledger entry
// 台帳エントリをステージング
func (tx *memoryTx) AppendMovement(movement *ledger.StockMovement) error {
	if movement.ReferenceNumber == "" {
		return ledger.NewStorageError("append_movement", "参照番号が空です", nil)
	}
	tx.movements = append(tx.movements, movement)
	return nil
}

// SetLocationOccupied stages a location occupancy change
// ロケーション占有状態の変更をステージング
func (tx *memoryTx) SetLocationOccupied(locationID string, occupied bool) error {
	tx.store.mu.RLock()
	_, ok := tx.store.locations[locationID]
	tx.store.mu.RUnlock()
	if !ok {
		return ledger.ErrLocationNotFound
	}
	tx.occupied[locationID] = occupied
	return nil
}

// FetchRecord retrieves one inventory record
// 在庫記録を1件取得
func (m *MemoryStore) FetchRecord(ctx context.Context, key ledger.RecordKey) (*ledger.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[key]
	if !ok {
		return nil, ledger.ErrRecordNotFound
	}
	copied := record
	return &copied, nil
}

// ListRecords returns all inventory records in key order
// すべての在庫記録をキー順で取得
func (m *MemoryStore) ListRecords(ctx context.Context) ([]ledger.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]ledger.InventoryRecord, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return keyLess(records[i].Key, records[j].Key)
	})
	return records, nil
}

// ListMovements returns the most recent ledger entries, newest first
// 直近の台帳エントリを新しい順で取得
func (m *MemoryStore) ListMovements(ctx context.Context, limit int) ([]ledger.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit > len(m.movements) {
		limit = len(m.movements)
	}
	movements := make([]ledger.StockMovement, 0, limit)
	for i := len(m.movements) - 1; i >= 0 && len(movements) < limit; i-- {
		movements = append(movements, m.movements[i])
	}
	return movements, nil
}

// GetMovementByReference retrieves a ledger entry by reference number
// 参照番号で台帳エントリを取得
func (m *MemoryStore) GetMovementByReference(ctx context.Context, reference string) (*ledger.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	index, ok := m.byReference[reference]
	if !ok {
		return nil, ledger.ErrMovementNotFound
	}
	copied := m.movements[index]
	return &copied, nil
}

// NextSequence allocates the next reference sequence for one prefix and day
// プレフィックスと日付ごとの次の参照連番を採番
func (m *MemoryStore) NextSequence(ctx context.Context, prefix string, date time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ledger.ErrStoreClosed
	}
	key := prefix + "-" + date.Format("20060102")
	m.sequences[key]++
	return m.sequences[key], nil
}

// CreateProduct creates a product
// 商品を作成
func (m *MemoryStore) CreateProduct(ctx context.Context, product *ledger.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.products[product.ID]; exists {
		return ledger.ErrDuplicateProduct
	}
	m.products[product.ID] = *product
	return nil
}

// GetProduct retrieves a product by ID
// IDで商品を取得
func (m *MemoryStore) GetProduct(ctx context.Context, productID string) (*ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	product, ok := m.products[productID]
	if !ok {
		return nil, ledger.ErrProductNotFound
	}
	copied := product
	return &copied, nil
}

// CreateWarehouse creates a warehouse
// 倉庫を作成
func (m *MemoryStore) CreateWarehouse(ctx context.Context, warehouse *ledger.Warehouse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.warehouses[warehouse.ID]; exists {
		return ledger.ErrDuplicateWarehouse
	}
	m.warehouses[warehouse.ID] = *warehouse
	return nil
}

// GetWarehouse retrieves a warehouse by ID
// IDで倉庫を取得
func (m *MemoryStore) GetWarehouse(ctx context.Context, warehouseID string) (*ledger.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	warehouse, ok := m.warehouses[warehouseID]
	if !ok {
		return nil, ledger.ErrWarehouseNotFound
	}
	copied := warehouse
	return &copied, nil
}

// CreateLocation creates a storage location
// 保管ロケーションを作成
func (m *MemoryStore) CreateLocation(ctx context.Context, location *ledger.StorageLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.locations[location.ID]; exists {
		return ledger.ErrDuplicateLocation
	}
	m.locations[location.ID] = *location
	return nil
}

// GetLocation retrieves a storage location by ID
// IDで保管ロケーションを取得
func (m *MemoryStore) GetLocation(ctx context.Context, locationID string) (*ledger.StorageLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	location, ok := m.locations[locationID]
	if !ok {
		return nil, ledger.ErrLocationNotFound
	}
	copied := location
	return &copied, nil
}

// CreateAlert creates a stock alert. At most one open alert may exist per
// (inventory, type); a second one is rejected at the store boundary.
// 在庫アラートを作成する。(在庫記録, タイプ) ごとにオープンなアラートは
// 最大1件であり、2件目はストア境界で拒否される
func (m *MemoryStore) CreateAlert(ctx context.Context, alert *ledger.StockAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isOpenStatus(alert.Status) {
		for _, existing := range m.alerts {
			if existing.InventoryID == alert.InventoryID &&
				existing.Type == alert.Type && isOpenStatus(existing.Status) {
				return ledger.ErrDuplicateAlert
			}
		}
	}
	m.alerts[alert.ID] = *alert
	return nil
}

// GetAlert retrieves an alert by ID
// IDでアラートを取得
func (m *MemoryStore) GetAlert(ctx context.Context, alertID string) (*ledger.StockAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alert, ok := m.alerts[alertID]
	if !ok {
		return nil, ledger.ErrAlertNotFound
	}
	copied := alert
	return &copied, nil
}

// ListAlerts returns alerts filtered by status, newest first.
// An empty status returns all alerts.
// ステータスでフィルタしたアラートを新しい順で取得。空文字は全件
func (m *MemoryStore) ListAlerts(ctx context.Context, status ledger.AlertStatus) ([]ledger.StockAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alerts := make([]ledger.StockAlert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if status != "" && alert.Status != status {
			continue
		}
		alerts = append(alerts, alert)
	}
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
		}
		return alerts[i].ID < alerts[j].ID
	})
	return alerts, nil
}

// UpdateAlert updates an existing alert only while its stored status still
// equals expected. A lost race returns ErrConflict so a stale writer can
// never overwrite a concurrent status transition.
// 格納中のステータスがexpectedと一致する場合のみアラートを更新する。
// 競合に敗れた場合はErrConflictを返し、古い書き込みが並行した
// ステータス遷移を上書きすることはない
func (m *MemoryStore) UpdateAlert(ctx context.Context, alert *ledger.StockAlert, expected ledger.AlertStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.alerts[alert.ID]
	if !ok {
		return ledger.ErrAlertNotFound
	}
	if existing.Status != expected {
		return ledger.ErrConflict
	}
	m.alerts[alert.ID] = *alert
	return nil
}

// FindOpenAlert finds an active or acknowledged alert for one record and type
// 指定記録・タイプのオープンな（アクティブまたは確認済み）アラートを検索
func (m *MemoryStore) FindOpenAlert(ctx context.Context, inventoryID string, alertType ledger.AlertType) (*ledger.StockAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, alert := range m.alerts {
		if alert.InventoryID != inventoryID || alert.Type != alertType {
			continue
		}
		if alert.Status == ledger.AlertStatusActive || alert.Status == ledger.AlertStatusAcknowledged {
			copied := alert
			return &copied, nil
		}
	}
	return nil, ledger.ErrAlertNotFound
}

// Ping checks the store is open
// ストアがオープンであることをチェック
func (m *MemoryStore) Ping(ctx context.Context) error {
	return m.checkOpen()
}

// Close marks the store closed
// ストアをクローズ
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ledger.ErrStoreClosed
	}
	return nil
}

// lockFor returns the one-slot semaphore for a key, creating it lazily
// キーの1スロットセマフォを返す（遅延作成）
func (m *MemoryStore) lockFor(key ledger.RecordKey) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	sem, ok := m.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		m.locks[key] = sem
	}
	return sem
}

func releaseAll(acquired []chan struct{}) {
	for _, sem := range acquired {
		<-sem
	}
}

// dedupeKeys sorts and deduplicates a key set for ordered lock acquisition
// ロック獲得順序のためキー集合をソートして重複排除
func dedupeKeys(keys []ledger.RecordKey) []ledger.RecordKey {
	ordered := make([]ledger.RecordKey, len(keys))
	copy(ordered, keys)
	sort.Slice(ordered, func(i, j int) bool {
		return keyLess(ordered[i], ordered[j])
	})

	deduped := ordered[:0]
	for i, key := range ordered {
		if i == 0 || key != ordered[i-1] {
			deduped = append(deduped, key)
		}
	}
	return deduped
}

// isOpenStatus reports whether a status counts as open (suppresses re-raising)
// オープン扱いのステータス（再発生を抑止する）かを判定
func isOpenStatus(status ledger.AlertStatus) bool {
	return status == ledger.AlertStatusActive || status == ledger.AlertStatusAcknowledged
}

func keyLess(a, b ledger.RecordKey) bool {
	if a.ProductID != b.ProductID {
		return a.ProductID < b.ProductID
	}
	if a.WarehouseID != b.WarehouseID {
		return a.WarehouseID < b.WarehouseID
	}
	return a.BatchNumber < b.BatchNumber
}
