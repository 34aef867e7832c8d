package ledger

import (
	"context"
	"fmt"
	"time"
)

// referenceSequenceMax is the last usable sequence number for one day.
// Overflow is an explicit error, never a silent wraparound.
// 1日あたりの連番上限。超過は明示的なエラーであり、暗黙の折り返しはしない
const referenceSequenceMax = 9999

// ReferenceGenerator allocates unique, ordered reference numbers of the form
// PREFIX-YYYYMMDD-NNNN. Allocation is delegated to the store, which serializes
// the increment per (prefix, date); two concurrent callers can never receive
// the same number.
// PREFIX-YYYYMMDD-NNNN 形式の一意で順序付けられた参照番号を採番する。
// インクリメントはストアが (プレフィックス, 日付) ごとに直列化するため、
// 同時に呼び出しても同じ番号が返ることはない
type ReferenceGenerator struct {
	storage Storage // 採番カウンタを保持するストレージ
	prefix  string  // 参照番号のプレフィックス（例：SM）
}

// NewReferenceGenerator creates a new reference number generator
// 新しい参照番号ジェネレーターを作成
func NewReferenceGenerator(storage Storage, prefix string) *ReferenceGenerator {
	if prefix == "" {
		prefix = "SM"
	}
	return &ReferenceGenerator{
		storage: storage,
		prefix:  prefix,
	}
}

// Next allocates the next reference number for the given date
// 指定日付の次の参照番号を採番
func (g *ReferenceGenerator) Next(ctx context.Context, date time.Time) (string, error) {
	seq, err := g.storage.NextSequence(ctx, g.prefix, date)
	if err != nil {
		return "", NewStorageError("next_sequence", "参照番号の採番に失敗しました", err)
	}

	if seq > referenceSequenceMax {
		return "", ErrSequenceExhausted
	}

	return FormatReference(g.prefix, date, seq), nil
}

// Prefix returns the generator's prefix
// ジェネレーターのプレフィックスを返す
func (g *ReferenceGenerator) Prefix() string {
	return g.prefix
}

// FormatReference formats a reference number as PREFIX-YYYYMMDD-NNNN
// 参照番号を PREFIX-YYYYMMDD-NNNN 形式にフォーマット
func FormatReference(prefix string, date time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, date.Format("20060102"), seq)
}
