// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// TokenizedInput is the model-ready tokenization of a text.
type TokenizedInput struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// WordPieceTokenizer implements simplified WordPiece tokenization for
// BERT-style models. A missing vocabulary file degrades to a built-in
// minimal vocabulary rather than failing.
type WordPieceTokenizer struct {
	vocab     map[string]int64
	idToToken map[int64]string

	clsTokenID int64
	sepTokenID int64
	padTokenID int64
	unkTokenID int64
}

// NewWordPieceTokenizer loads a vocabulary file with one token per line.
// An empty or unreadable path falls back to the built-in vocabulary.
func NewWordPieceTokenizer(vocabPath string) (*WordPieceTokenizer, error) {
	t := &WordPieceTokenizer{
		vocab:     make(map[string]int64),
		idToToken: make(map[int64]string),
	}

	if vocabPath == "" {
		t.initMinimalVocab()
		return t, nil
	}

	file, err := os.Open(vocabPath)
	if err != nil {
		t.initMinimalVocab()
		return t, nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var id int64
	for scanner.Scan() {
		token := scanner.Text()
		t.vocab[token] = id
		t.idToToken[id] = token
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading vocabulary: %w", err)
	}

	t.setSpecialTokenIDs()
	return t, nil
}

// initMinimalVocab seeds enough vocabulary to tokenize typical assistant
// queries without an external file.
func (t *WordPieceTokenizer) initMinimalVocab() {
	minimalVocab := []string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
		"the", "a", "an", "is", "are", "was", "were",
		"to", "of", "in", "for", "on", "with", "at",
		"by", "from", "as", "or", "and", "but", "not",
		"this", "that", "it", "be", "have", "has", "had",
		"do", "does", "did", "will", "would", "could", "should",
		"can", "may", "might", "must", "shall",
		"i", "you", "he", "she", "we", "they", "me", "him", "her", "us", "them",
		"my", "your", "his", "its", "our", "their",
		"what", "which", "who", "whom", "whose", "where", "when", "why", "how",
		"explain", "compare", "summarize", "analyze", "design", "prove",
		"write", "create", "build", "make", "help", "define", "translate",
		"code", "function", "algorithm", "system", "architecture", "tradeoff",
		"error", "bug", "fix", "debug", "test", "optimize",
		"api", "web", "server", "client", "database", "query",
		"python", "java", "javascript", "go", "rust", "c", "cpp",
		"capital", "weather", "time", "name", "list", "simple",
		"##s", "##ed", "##ing", "##er", "##ly", "##tion", "##ment",
	}

	for i, token := range minimalVocab {
		t.vocab[token] = int64(i)
		t.idToToken[int64(i)] = token
	}
	t.setSpecialTokenIDs()
}

func (t *WordPieceTokenizer) setSpecialTokenIDs() {
	if id, ok := t.vocab["[CLS]"]; ok {
		t.clsTokenID = id
	}
	if id, ok := t.vocab["[SEP]"]; ok {
		t.sepTokenID = id
	}
	if id, ok := t.vocab["[PAD]"]; ok {
		t.padTokenID = id
	}
	if id, ok := t.vocab["[UNK]"]; ok {
		t.unkTokenID = id
	}
}

// Tokenize converts text into token IDs bounded by maxLength, including the
// [CLS] and [SEP] markers.
func (t *WordPieceTokenizer) Tokenize(text string, maxLength int) (*TokenizedInput, error) {
	text = t.normalizeText(strings.ToLower(text))
	words := strings.Fields(text)

	tokens := []int64{t.clsTokenID}
	for _, word := range words {
		tokens = append(tokens, t.tokenizeWord(word)...)
		if len(tokens) >= maxLength-1 {
			break
		}
	}
	tokens = append(tokens, t.sepTokenID)

	if len(tokens) > maxLength {
		tokens = tokens[:maxLength-1]
		tokens = append(tokens, t.sepTokenID)
	}

	seqLen := len(tokens)
	attentionMask := make([]int64, seqLen)
	tokenTypeIDs := make([]int64, seqLen)
	for i := 0; i < seqLen; i++ {
		attentionMask[i] = 1
	}

	return &TokenizedInput{
		InputIDs:      tokens,
		AttentionMask: attentionMask,
		TokenTypeIDs:  tokenTypeIDs,
	}, nil
}

// normalizeText collapses whitespace and isolates punctuation as separate
// tokens.
func (t *WordPieceTokenizer) normalizeText(text string) string {
	text = strings.Join(strings.Fields(text), " ")

	var result strings.Builder
	for _, r := range text {
		if unicode.IsPunct(r) {
			result.WriteRune(' ')
			result.WriteRune(r)
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(result.String()), " ")
}

// tokenizeWord applies greedy longest-match WordPiece to a single word.
func (t *WordPieceTokenizer) tokenizeWord(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{id}
	}

	tokens := []int64{}
	start := 0
	for start < len(word) {
		end := len(word)
		found := false

		for end > start {
			substr := word[start:end]
			if start > 0 {
				substr = "##" + substr
			}
			if id, ok := t.vocab[substr]; ok {
				tokens = append(tokens, id)
				found = true
				break
			}
			end--
		}

		if !found {
			tokens = append(tokens, t.unkTokenID)
			start++
		} else {
			start = end
		}
	}

	if len(tokens) == 0 {
		return []int64{t.unkTokenID}
	}
	return tokens
}

// VocabSize returns the number of entries in the vocabulary.
func (t *WordPieceTokenizer) VocabSize() int {
	return len(t.vocab)
}
