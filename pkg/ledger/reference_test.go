package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// seqStorage は NextSequence のみを差し替えるテスト用ストレージ
type seqStorage struct {
	Storage
	next    int
	prefix  string
	seqDate time.Time
}

func (s *seqStorage) NextSequence(ctx context.Context, prefix string, date time.Time) (int, error) {
	s.prefix = prefix
	s.seqDate = date
	s.next++
	return s.next, nil
}

// TestFormatReference は参照番号フォーマットのテスト
func TestFormatReference(t *testing.T) {
	date := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "SM-20260830-0001", FormatReference("SM", date, 1))
	assert.Equal(t, "SM-20260830-0042", FormatReference("SM", date, 42))
	assert.Equal(t, "PO-20260830-9999", FormatReference("PO", date, 9999))
}

// TestReferenceGenerator_Next は採番のテスト
func TestReferenceGenerator_Next(t *testing.T) {
	store := &seqStorage{}
	gen := NewReferenceGenerator(store, "SM")
	date := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	ref, err := gen.Next(context.Background(), date)
	assert.NoError(t, err)
	assert.Equal(t, "SM-20260830-0001", ref)
	assert.Equal(t, "SM", store.prefix)

	ref, err = gen.Next(context.Background(), date)
	assert.NoError(t, err)
	assert.Equal(t, "SM-20260830-0002", ref)
}

// TestReferenceGenerator_Exhausted は連番上限超過のテスト
func TestReferenceGenerator_Exhausted(t *testing.T) {
	store := &seqStorage{next: 9998}
	gen := NewReferenceGenerator(store, "SM")
	date := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	// 9999番はまだ採番できる
	ref, err := gen.Next(context.Background(), date)
	assert.NoError(t, err)
	assert.Equal(t, "SM-20260830-9999", ref)

	// 10000番でエラー
	_, err = gen.Next(context.Background(), date)
	assert.ErrorIs(t, err, ErrSequenceExhausted)
}

// TestReferenceGenerator_DefaultPrefix は省略時プレフィックスのテスト
func TestReferenceGenerator_DefaultPrefix(t *testing.T) {
	gen := NewReferenceGenerator(&seqStorage{}, "")
	assert.Equal(t, "SM", gen.Prefix())
}
