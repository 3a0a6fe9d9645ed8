package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftdoc/internal"
)

func obs(substance string, level int) internal.CravingObservation {
	return internal.CravingObservation{Substance: substance, Level: level}
}

func TestExtractLevels(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []internal.CravingObservation
	}{
		{name: "labeled", input: "alc 5, nic-7", want: []internal.CravingObservation{obs("alcohol", 5), obs("nicotine", 7)}},
		{name: "labeled colon upper", input: "ALC: 4", want: []internal.CravingObservation{obs("alcohol", 4)}},
		{name: "marijuana aliases", input: "weed 2 thc 6", want: []internal.CravingObservation{obs("marijuana", 2), obs("marijuana", 6)}},
		{name: "number before for", input: "8 for nic", want: []internal.CravingObservation{obs(internal.SubstanceUnknown, 8)}},
		{name: "labeled and for merge", input: "alc 3 and 9 for nic", want: []internal.CravingObservation{obs("alcohol", 3), obs(internal.SubstanceUnknown, 9)}},
		{name: "scale denominator ignored", input: "0/10 cravings today", want: []internal.CravingObservation{obs(internal.SubstanceUnknown, 0)}},
		{name: "fallback takes max", input: "2 this morning, 6 after group", want: []internal.CravingObservation{obs(internal.SubstanceUnknown, 6)}},
		{name: "fallback skips out of range", input: "room 12, craving 3", want: []internal.CravingObservation{obs(internal.SubstanceUnknown, 3)}},
		{name: "labeled out of range", input: "alc 15", want: []internal.CravingObservation{}},
		{name: "no numbers", input: "denies cravings", want: []internal.CravingObservation{}},
		{name: "empty", input: "", want: []internal.CravingObservation{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractLevels(tc.input)
			require.NotNil(t, got)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveLevel(t *testing.T) {
	_, ok := ResolveLevel(nil)
	assert.False(t, ok)

	cases := []struct {
		name  string
		input []internal.CravingObservation
		want  internal.CravingObservation
	}{
		{name: "max wins", input: []internal.CravingObservation{obs("alcohol", 5), obs("nicotine", 7)}, want: obs("nicotine", 7)},
		{name: "single labeled at max", input: []internal.CravingObservation{obs(internal.SubstanceUnknown, 7), obs("alcohol", 7)}, want: obs("alcohol", 7)},
		{name: "two labeled tie keeps first", input: []internal.CravingObservation{obs("alcohol", 7), obs("nicotine", 7)}, want: obs("alcohol", 7)},
		{name: "unknown only", input: []internal.CravingObservation{obs(internal.SubstanceUnknown, 4), obs(internal.SubstanceUnknown, 2)}, want: obs(internal.SubstanceUnknown, 4)},
		{name: "zero", input: []internal.CravingObservation{obs(internal.SubstanceUnknown, 0)}, want: obs(internal.SubstanceUnknown, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveLevel(tc.input)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
