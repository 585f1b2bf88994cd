package sqlverb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Class
	}{
		{"select", "SELECT 1;", ClassRead},
		{"select leading whitespace", "   SELECT 1;", ClassRead},
		{"select tabs and newlines", "\t\r\n SELECT * FROM t", ClassRead},
		{"mixed case select", "SeLeCt id FROM users", ClassRead},
		{"lowercase select", "select now()", ClassRead},
		{"insert", "INSERT INTO t VALUES(1)", ClassWrite},
		{"update", "UPDATE t SET a = 1", ClassWrite},
		{"delete", "DELETE FROM t", ClassWrite},
		{"mixed case write", "iNsErT INTO t VALUES(2)", ClassWrite},
		{"begin", "BEGIN;", ClassUnknown},
		{"commit", "COMMIT", ClassUnknown},
		{"empty", "", ClassUnknown},
		{"whitespace only", " \t\r\n ", ClassUnknown},
		{"short prefix", "SELEC", ClassUnknown},
		{"short after whitespace", "   SEL", ClassUnknown},
		{"verb-like noise", "SELFIE FROM t", ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify([]byte(tt.input)))
		})
	}
}

func TestClassifyDoesNotMutateInput(t *testing.T) {
	frame := []byte("   select 1;")
	before := make([]byte, len(frame))
	copy(before, frame)

	Classify(frame)

	assert.Equal(t, before, frame)
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "READ", ClassRead.String())
	assert.Equal(t, "WRITE", ClassWrite.String())
	assert.Equal(t, "UNKNOWN", ClassUnknown.String())
}
