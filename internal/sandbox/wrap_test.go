package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntryModes(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		expression bool
		ok         bool
	}{
		{"arithmetic expression", "2 + 2", true, true},
		{"object literal expression", "({ a: 1 })", true, true},
		{"await expression", "await Promise.resolve(1)", true, true},
		{"expression with trailing comment", "1 // one", true, true},
		{"statements are not an expression", "const x = 1; return x;", true, false},
		{"statements as body", "const x = 1; return x;", false, true},
		{"return is not an expression", "return 42", true, false},
		{"trailing semicolon is a body", "2 + 2;", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, footer := bodyHeader, bodyFooter
			if tt.expression {
				header, footer = expressionHeader, expressionFooter
			}
			_, err := parseEntry(header+tt.code+footer, tt.expression)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseEntryRejectsEscapes(t *testing.T) {
	escapes := []string{
		"} globalThis.leak = 1; async function main(input) {",
		"}; (function () {})(); {",
		"} function other() {",
	}

	for _, code := range escapes {
		_, err := parseEntry(bodyHeader+code+bodyFooter, false)
		assert.ErrorIs(t, err, errEscapedEntry, code)
	}
}

func TestCompileEntry(t *testing.T) {
	prg, err := compileEntry("2 + 2")
	require.NoError(t, err)
	assert.NotNil(t, prg)

	prg, err = compileEntry("const a = [1, 2];\nreturn a.length;")
	require.NoError(t, err)
	assert.NotNil(t, prg)

	_, err = compileEntry("return {")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SyntaxError")
}
