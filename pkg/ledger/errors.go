package ledger

import (
	"errors"
	"fmt"
)

// Common ledger errors
// 台帳共通のエラー定義

var (
	// ErrProductNotFound is returned when a product doesn't exist
	// 商品が存在しない場合のエラー
	ErrProductNotFound = errors.New("商品が見つかりません")

	// ErrWarehouseNotFound is returned when a warehouse doesn't exist
	// 倉庫が存在しない場合のエラー
	ErrWarehouseNotFound = errors.New("倉庫が見つかりません")

	// ErrLocationNotFound is returned when a storage location doesn't exist
	// 保管ロケーションが存在しない場合のエラー
	ErrLocationNotFound = errors.New("保管ロケーションが見つかりません")

	// ErrRecordNotFound is returned when an inventory record doesn't exist
	// 在庫記録が存在しない場合のエラー
	ErrRecordNotFound = errors.New("在庫記録が見つかりません")

	// ErrMovementNotFound is returned when a movement doesn't exist
	// 移動記録が存在しない場合のエラー
	ErrMovementNotFound = errors.New("移動記録が見つかりません")

	// ErrAlertNotFound is returned when an alert doesn't exist
	// アラートが存在しない場合のエラー
	ErrAlertNotFound = errors.New("アラートが見つかりません")

	// ErrInsufficientStock is returned when an OUT exceeds available stock
	// 出庫数量が在庫を超える場合のエラー
	ErrInsufficientStock = errors.New("在庫が不足しています")

	// ErrInsufficientReservation is returned when releasing more than reserved
	// 予約量を超えて解除しようとした場合のエラー
	ErrInsufficientReservation = errors.New("予約量が不足しています")

	// ErrDuplicateReference is returned on a reference number collision.
	// Retried internally with a fresh number; not surfaced for generated numbers.
	// 参照番号が衝突した場合のエラー。生成番号の場合は内部で再採番して再試行する
	ErrDuplicateReference = errors.New("参照番号が重複しています")

	// ErrSequenceExhausted is returned when a day's sequence passes 9999
	// 1日の連番が9999を超えた場合のエラー
	ErrSequenceExhausted = errors.New("参照番号の連番を使い切りました")

	// ErrConflict is returned when a lock cannot be acquired in time (retryable)
	// ロックが時間内に獲得できない場合のエラー（再試行可能）
	ErrConflict = errors.New("他の処理と競合しています。再試行してください")

	// ErrDuplicateProduct is returned when creating a product that already exists
	// 既に存在する商品を作成しようとした場合のエラー
	ErrDuplicateProduct = errors.New("商品は既に存在します")

	// ErrDuplicateWarehouse is returned when creating a warehouse that already exists
	// 既に存在する倉庫を作成しようとした場合のエラー
	ErrDuplicateWarehouse = errors.New("倉庫は既に存在します")

	// ErrDuplicateLocation is returned when creating a location that already exists
	// 既に存在するロケーションを作成しようとした場合のエラー
	ErrDuplicateLocation = errors.New("保管ロケーションは既に存在します")

	// ErrDuplicateAlert is returned when creating an open alert while another
	// open alert for the same (inventory, type) already exists
	// 同一の (在庫記録, タイプ) にオープンなアラートが既に存在する場合のエラー
	ErrDuplicateAlert = errors.New("オープンなアラートは既に存在します")

	// ErrStoreClosed is returned when operating on a closed store
	// クローズ済みストアを操作した場合のエラー
	ErrStoreClosed = errors.New("ストレージは既にクローズされています")
)

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

// BusinessRuleError represents a business rule violation
// ビジネスルール違反を表現
type BusinessRuleError struct {
	Rule    string `json:"rule"`    // ルール名
	Message string `json:"message"` // エラーメッセージ
	Context string `json:"context"` // コンテキスト情報
}

func (e BusinessRuleError) Error() string {
	return fmt.Sprintf("ビジネスルール違反 [%s]: %s (コンテキスト: %s)", e.Rule, e.Message, e.Context)
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewBusinessRuleError creates a new business rule error
// 新しいビジネスルールエラーを作成
func NewBusinessRuleError(rule, message, context string) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// IsValidationError reports whether err is a validation error
// errがバリデーションエラーかを判定
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
