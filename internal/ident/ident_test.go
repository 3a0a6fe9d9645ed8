package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		canonical string
		key       string
	}{
		{name: "short sequence", input: "ffr 2024-7", canonical: "FFR-2024-007", key: "FFR2024007"},
		{name: "canonical", input: "FFR-2024-123", canonical: "FFR-2024-123", key: "FFR2024123"},
		{name: "compact", input: "FFR2024008", canonical: "FFR-2024-008", key: "FFR2024008"},
		{name: "two digit", input: "FFR 2024 12", canonical: "FFR-2024-012", key: "FFR2024012"},
		{name: "mid line", input: "John Smith FFR - 2025 - 044 (room 3)", canonical: "FFR-2025-044", key: "FFR2025044"},
		{name: "alias", input: "frr-2024-009", canonical: "FFR-2024-009", key: "FFR2024009"},
		{name: "mixed case", input: "fFr2024-10", canonical: "FFR-2024-010", key: "FFR2024010"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok, ok := Normalize(tc.input)
			require.True(t, ok)
			assert.Equal(t, tc.canonical, tok.Canonical)
			assert.Equal(t, tc.key, tok.Key)
		})
	}
}

func TestNormalizeNoMatch(t *testing.T) {
	for _, input := range []string{
		"",
		"Jane Doe",
		"FFR",
		"FFR-24-007",
		"ABC-2024-007",
		"room 2024 bed 12",
		"FFR / 2024 / 007",
	} {
		_, ok := Normalize(input)
		assert.False(t, ok, "input %q", input)
		assert.Empty(t, Key(input))
	}
}

func TestNormalizeIdempotentOnCanonical(t *testing.T) {
	for _, input := range []string{"ffr 2024-7", "FRR 2023 99", "x FFR2024123 y", "F FR-2024-1"} {
		first, ok := Normalize(input)
		if !ok {
			continue
		}
		second, ok := Normalize(first.Canonical)
		require.True(t, ok, "canonical %q must normalize", first.Canonical)
		assert.Equal(t, first, second)
	}
}

func TestSpacingAndCaseShareKey(t *testing.T) {
	variants := []string{"FFR-2024-007", "ffr 2024 007", "FFR2024-7", "Ffr - 2024 - 07", "FRR2024007"}
	for _, v := range variants {
		assert.Equal(t, "FFR2024007", Key(v), "variant %q", v)
	}
}

func TestFindReturnsSpan(t *testing.T) {
	line := "Jane Doe FFR 2024-007"
	tok, start, end, ok := Default.Find(line)
	require.True(t, ok)
	assert.Equal(t, "FFR2024007", tok.Key)
	assert.Equal(t, "Jane Doe ", line[:start])
	assert.Equal(t, len(line), end)
}

func TestFindLenient(t *testing.T) {
	cases := map[string]string{
		"F F R 2024-009":             "FFR2024009",
		"F  FR2024 9":                "FFR2024009",
		"frr 2024 - 011":             "FFR2024011",
		"Client FFR-2024-123.":       "FFR2024123",
		"Jeffrey saw FFR-2024-007":   "FFR2024007",
		"Jeffrey 2024 FFR 2024 - 12": "FFR2024012",
	}
	for input, key := range cases {
		tok, ok := Default.FindLenient(input)
		require.True(t, ok, "input %q", input)
		assert.Equal(t, key, tok.Key)
	}

	for _, input := range []string{
		"Day: stable",
		"staff reported 2024 visit 3",
		"f f r 2024-009",
		"FFR: 2024 / 9",
		"frr #2024 no. 011",
		"Spoke with Jeffrey on 2024-05-01 about discharge",
		"Jeffrey's cell 5551234 was disconnected",
		"JEFFREY 2024-05-01",
	} {
		_, ok := Default.FindLenient(input)
		assert.False(t, ok, "input %q", input)
	}
}

func TestCustomGrammar(t *testing.T) {
	g := NewGrammar("abc", []string{"acb"}, 4, 2, 4)
	tok, ok := g.Normalize("acb 2023-17")
	require.True(t, ok)
	assert.Equal(t, "ABC-2023-0017", tok.Canonical)
	assert.Equal(t, "ABC20230017", tok.Key)

	_, ok = g.Normalize("FFR-2024-007")
	assert.False(t, ok)
}
