// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWordPieceTokenizer(t *testing.T) {
	// No vocab path falls back to the built-in minimal vocabulary.
	tok, err := NewWordPieceTokenizer("")
	require.NoError(t, err)
	assert.NotNil(t, tok)
	assert.Greater(t, tok.VocabSize(), 0)

	// An unreadable path degrades the same way instead of failing.
	tok, err = NewWordPieceTokenizer("/nonexistent/vocab.txt")
	require.NoError(t, err)
	assert.Greater(t, tok.VocabSize(), 0)
}

func TestNewWordPieceTokenizerFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	content := "[PAD]\n[UNK]\n[CLS]\n[SEP]\nhello\nworld\n##ing\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tok, err := NewWordPieceTokenizer(path)
	require.NoError(t, err)
	assert.Equal(t, 7, tok.VocabSize())

	input, err := tok.Tokenize("hello world", 16)
	require.NoError(t, err)
	// [CLS] hello world [SEP]
	assert.Equal(t, []int64{2, 4, 5, 3}, input.InputIDs)
}

func TestTokenize(t *testing.T) {
	tok, err := NewWordPieceTokenizer("")
	require.NoError(t, err)

	tests := []struct {
		name      string
		text      string
		maxLength int
	}{
		{
			name:      "simple text",
			text:      "explain the algorithm",
			maxLength: 128,
		},
		{
			name:      "empty text",
			text:      "",
			maxLength: 128,
		},
		{
			name:      "long text",
			text:      "this is a very long query that should be truncated to fit within the maximum sequence length limit of the model",
			maxLength: 10,
		},
		{
			name:      "punctuation",
			text:      "What is the capital of France?",
			maxLength: 128,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := tok.Tokenize(tt.text, tt.maxLength)
			require.NoError(t, err)

			assert.LessOrEqual(t, len(input.InputIDs), tt.maxLength)
			assert.Len(t, input.AttentionMask, len(input.InputIDs))
			assert.Len(t, input.TokenTypeIDs, len(input.InputIDs))

			// Every sequence is wrapped in [CLS] ... [SEP].
			require.GreaterOrEqual(t, len(input.InputIDs), 2)
			assert.Equal(t, tok.clsTokenID, input.InputIDs[0])
			assert.Equal(t, tok.sepTokenID, input.InputIDs[len(input.InputIDs)-1])

			for _, m := range input.AttentionMask {
				assert.Equal(t, int64(1), m)
			}
		})
	}
}

func TestTokenizeWordGreedyLongestMatch(t *testing.T) {
	tok, err := NewWordPieceTokenizer("")
	require.NoError(t, err)

	// "explains" = "explain" + "##s" with the minimal vocabulary.
	ids := tok.tokenizeWord("explains")
	require.Len(t, ids, 2)
	assert.Equal(t, tok.vocab["explain"], ids[0])
	assert.Equal(t, tok.vocab["##s"], ids[1])

	// Fully unknown characters map to [UNK] rather than dropping out.
	ids = tok.tokenizeWord("zzz")
	assert.NotEmpty(t, ids)
	for _, id := range ids {
		assert.Equal(t, tok.unkTokenID, id)
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}
	d := []float32{-1, 0, 0}

	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity(a, c), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity(a, d), 1e-9)

	// Mismatched or empty inputs score zero instead of panicking.
	assert.Equal(t, 0.0, CosineSimilarity(a, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))

	// Scale invariance.
	scaled := []float32{10, 0, 0}
	assert.False(t, math.IsNaN(CosineSimilarity(a, scaled)))
	assert.InDelta(t, 1.0, CosineSimilarity(a, scaled), 1e-6)
}
