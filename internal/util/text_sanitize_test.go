package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTextRemovesNulAndControls(t *testing.T) {
	in := "ab\x00cd\x01\x02\n\txy"
	out := SanitizeText(in)
	if out != "abcd\n\txy" {
		t.Fatalf("unexpected sanitized output: %q", out)
	}
}

func TestTailTextKeepsEnd(t *testing.T) {
	in := "Traceback (most recent call last):\n  File \"main.py\"\nValueError: é"
	assert.Equal(t, in, TailText(in, 0))
	assert.Equal(t, in, TailText(in, len(in)))

	out := TailText(in, 14)
	assert.Equal(t, "...ValueError: é", out)
}

func TestTailTextDoesNotSplitRunes(t *testing.T) {
	out := TailText("aaaéé", 3)
	assert.Equal(t, "...é", out)
}
