package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecupError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("connection refused")

	specupErr := New(ErrCodeUpstreamUnavailable, "reranker unreachable", originalErr)

	require.NotNil(t, specupErr)
	assert.Equal(t, originalErr, errors.Unwrap(specupErr))
	assert.True(t, errors.Is(specupErr, originalErr))
}

func TestSpecupError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "store error",
			code:     ErrCodeStoreCorrupt,
			message:  "passage store failed integrity check",
			expected: "[ERR_202_STORE_CORRUPT] passage store failed integrity check",
		},
		{
			name:     "upstream error",
			code:     ErrCodeUpstreamTimeout,
			message:  "embedding request timed out",
			expected: "[ERR_301_UPSTREAM_TIMEOUT] embedding request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestSpecupError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeRerankFailed, "batch 1 failed", nil)
	err2 := New(ErrCodeRerankFailed, "batch 2 failed", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestSpecupError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeRerankFailed, "rerank failed", nil)
	err2 := New(ErrCodeEmbeddingFailed, "embedding failed", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestCategoryFromCode(t *testing.T) {
	assert.Equal(t, CategoryConfig, categoryFromCode(ErrCodeConfigInvalid))
	assert.Equal(t, CategoryStore, categoryFromCode(ErrCodeIndexBuild))
	assert.Equal(t, CategoryUpstream, categoryFromCode(ErrCodeAugmentationFailed))
	assert.Equal(t, CategoryValidation, categoryFromCode(ErrCodeQueryEmpty))
	assert.Equal(t, CategoryInternal, categoryFromCode(ErrCodeFusionFailed))
	assert.Equal(t, CategoryInternal, categoryFromCode("bogus"))
}

func TestIsRetryable_UpstreamErrorsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(UpstreamError("web search unavailable", nil)))
	assert.True(t, IsRetryable(New(ErrCodeRerankFailed, "rerank failed", nil)))
	assert.False(t, IsRetryable(ConfigError("bad blend weight", nil)))
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestIsFatal_ConfigErrorsFatal(t *testing.T) {
	assert.True(t, IsFatal(ConfigError("web_weight must be positive", nil)))
	assert.False(t, IsFatal(UpstreamError("timeout", nil)))
	assert.False(t, IsFatal(nil))
}

func TestGetCode_ThroughWrapLayers(t *testing.T) {
	inner := New(ErrCodeDimensionMismatch, "expected 768, got 384", nil)
	wrapped := fmt.Errorf("load vector index: %w", inner)

	assert.Equal(t, ErrCodeDimensionMismatch, GetCode(wrapped))
	assert.Equal(t, CategoryValidation, GetCategory(wrapped))
	assert.Empty(t, GetCode(errors.New("plain")))
}

func TestSentinels_MatchAcrossWrapping(t *testing.T) {
	err := fmt.Errorf("vector origin: %w", ErrRetrievalUnavailable)
	assert.True(t, errors.Is(err, ErrRetrievalUnavailable))
	assert.False(t, errors.Is(err, ErrRerankUnavailable))

	err = fmt.Errorf("passage p-17: %w", ErrPassageNotFound)
	assert.True(t, errors.Is(err, ErrPassageNotFound))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetail_AndSuggestion(t *testing.T) {
	err := StoreError("lexical index build failed", nil).
		WithDetail("corpus_version", "ab12cd34").
		WithSuggestion("run 'specup index' to rebuild")

	assert.Equal(t, "ab12cd34", err.Details["corpus_version"])
	assert.Equal(t, "run 'specup index' to rebuild", err.Suggestion)
}
