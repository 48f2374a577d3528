package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_LowercasesLatin(t *testing.T) {
	tokens := Tokenize("Raid Guide For Berserker")
	assert.Equal(t, []string{"raid", "guide", "for", "berserker"}, tokens)
}

func TestTokenize_DropsShortLatinTokens(t *testing.T) {
	tokens := Tokenize("a of dungeon x")
	assert.Equal(t, []string{"of", "dungeon"}, tokens)
}

func TestTokenize_KeepsSingleSyllableHangul(t *testing.T) {
	tokens := Tokenize("템 세팅")
	assert.Equal(t, []string{"템", "세팅"}, tokens)
}

func TestTokenize_SplitsScriptBoundaries(t *testing.T) {
	// Fame thresholds must match whether or not the user spaces the digits.
	tokens := Tokenize("명성5만으로 갈 수 있는 던전")
	assert.Contains(t, tokens, "명성")
	assert.Contains(t, tokens, "5")
	assert.Contains(t, tokens, "던전")
}

func TestTokenize_SplitsPunctuation(t *testing.T) {
	tokens := Tokenize("berserker, guide: epic-quest")
	assert.Equal(t, []string{"berserker", "guide", "epic", "quest"}, tokens)
}

func TestTokenize_EmptyInput(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("   \t\n"))
}

func TestFilterStopWords(t *testing.T) {
	stopWords := BuildStopWordMap([]string{"그리고", "the"})

	tokens := FilterStopWords([]string{"그리고", "던전", "the", "raid"}, stopWords)
	assert.Equal(t, []string{"던전", "raid"}, tokens)
}

func TestBuildStopWordMap_CaseInsensitive(t *testing.T) {
	m := BuildStopWordMap([]string{"The", "AND"})

	_, hasThe := m["the"]
	_, hasAnd := m["and"]
	assert.True(t, hasThe)
	assert.True(t, hasAnd)
}
