package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/impact/pkg/trial"
)

func TestParse_Traverse(t *testing.T) {
	id, err := Parse("strain:MG1655 | plasmid:pKDL071|rep:2|Time:4.5", Traverse)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"strain": "MG1655", "plasmid": "pKDL071"}, id.Descriptors)
	assert.Equal(t, "2", id.Replicate)
	assert.True(t, id.HasTime)
	assert.Equal(t, 4.5, id.Time)
	assert.Empty(t, id.AnalyteType)
}

func TestParse_TraverseAnalyteAndLongReplicateKey(t *testing.T) {
	id, err := Parse("strain:W3110|replicate:3|analyte_type:Product|analyte_name:ethanol", Traverse)
	require.NoError(t, err)
	assert.Equal(t, "3", id.Replicate)
	assert.Equal(t, trial.ProductType, id.AnalyteType)
	assert.Equal(t, "ethanol", id.AnalyteName)
}

func TestParse_TraverseErrors(t *testing.T) {
	cases := map[string]error{
		"":                      ErrEmpty,
		"0":                     ErrEmpty,
		"|||":                   ErrEmpty,
		"strain":                ErrMalformed,
		":value":                ErrMalformed,
		"strain:a|strain:b":     ErrMalformed,
		"rep:1|replicate:2":     ErrMalformed,
		"strain:a|time:morning": ErrMalformed,
	}
	for in, want := range cases {
		_, err := Parse(in, Traverse)
		assert.ErrorIs(t, err, want, "input %q", in)
	}
}

func TestParse_CSV(t *testing.T) {
	id, err := Parse("MG1655,pKDL071,,1,12", CSV)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"strain": "MG1655", "id1": "pKDL071"}, id.Descriptors)
	assert.Equal(t, "1", id.Replicate)
	assert.Equal(t, 12.0, id.Time)

	short, err := Parse("MG1655", CSV)
	require.NoError(t, err)
	assert.Empty(t, short.Replicate)
	assert.False(t, short.HasTime)

	_, err = Parse("a,b,c,1,2,3", CSV)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = Parse("a,b,c,1,noon", CSV)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseGrammar(t *testing.T) {
	g, err := ParseGrammar("csv")
	require.NoError(t, err)
	assert.Equal(t, CSV, g)

	g, err = ParseGrammar("")
	require.NoError(t, err)
	assert.Equal(t, Traverse, g)

	_, err = ParseGrammar("yaml")
	assert.ErrorIs(t, err, ErrUnknownGrammar)
}

func TestFormat_RoundTrip(t *testing.T) {
	in := trial.Identifier{
		AnalyteType: trial.BiomassType,
		AnalyteName: "OD600",
		Replicate:   "1",
		Descriptors: map[string]string{"strain": "MG1655", "media": "M9"},
		Time:        2.25,
		HasTime:     true,
	}
	s := Format(in)
	assert.Equal(t, "media:M9|strain:MG1655|rep:1|time:2.25|analyte_type:biomass|analyte_name:OD600", s)

	out, err := Parse(s, Traverse)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCache_ReturnsPrivateCopies(t *testing.T) {
	c := NewCache(Traverse)
	a, err := c.Parse("strain:MG1655|rep:1")
	require.NoError(t, err)
	a.Descriptors["strain"] = "mutated"

	b, err := c.Parse("strain:MG1655|rep:1")
	require.NoError(t, err)
	assert.Equal(t, "MG1655", b.Descriptors["strain"])

	_, err = c.Parse("broken")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = c.Parse("broken")
	assert.ErrorIs(t, err, ErrMalformed)
}
