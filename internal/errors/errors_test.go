package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesKindFromCode(t *testing.T) {
	tests := []struct {
		code string
		want Kind
	}{
		{ErrCodeConfigInvalid, KindConfiguration},
		{ErrCodeStoreParamsIncomplete, KindConfiguration},
		{ErrCodeReportMalformed, KindMalformedReport},
		{ErrCodeIndexCreation, KindIndexCreation},
		{ErrCodeIndexWrite, KindIndexWrite},
		{ErrCodeBulkWrite, KindBulkWrite},
		{ErrCodeQueryFailed, KindQuery},
		{ErrCodeStoreUnreachable, KindQuery},
		{"ERR_999_UNKNOWN", KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.want, err.Kind)
		})
	}
}

func TestError_FormatsCodeAndMessage(t *testing.T) {
	err := New(ErrCodeBulkWrite, "bulk index reported errors", nil)
	assert.Equal(t, "[ERR_303_BULK_WRITE] bulk index reported errors", err.Error())
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCodeStoreUnreachable, cause)

	require.NotNil(t, err)
	assert.Equal(t, KindQuery, err.Kind)
	assert.ErrorIs(t, err, cause)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeQueryFailed, nil))
}

func TestIsKind_MatchesThroughWrapping(t *testing.T) {
	inner := Query("search failed", nil).WithStatus(503)
	outer := fmt.Errorf("indexing run: %w", inner)

	assert.True(t, IsKind(outer, KindQuery))
	assert.False(t, IsKind(outer, KindBulkWrite))
	assert.Equal(t, 503, GetStatus(outer))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeIndexCreation, "first", nil)
	b := New(ErrCodeIndexCreation, "second", nil)
	c := New(ErrCodeIndexWrite, "third", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWithDetail_Chains(t *testing.T) {
	err := BulkWrite("batch failed", nil).
		WithDetail("batch", "3").
		WithDetail("docs", "1000")

	assert.Equal(t, "3", err.Details["batch"])
	assert.Equal(t, "1000", err.Details["docs"])
}

func TestGetKind_NonCoverError(t *testing.T) {
	assert.Equal(t, KindInternal, GetKind(errors.New("plain")))
}
