package cases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_AggLayer(t *testing.T) {
	set, err := Expand([]string{"mean1", "ewma3"}, nil, nil)
	require.NoError(t, err)

	require.Len(t, set.Agg, 2)
	assert.Equal(t, 0, set.Agg[0].ID)
	assert.Equal(t, "mean1", set.Agg[0].Name)
	assert.Equal(t, map[string]string{"agg_fn": "mean1"}, set.Agg[0].Tags)
	assert.Equal(t, 1, set.Agg[1].ID)
	assert.Equal(t, "ewma3", set.Agg[1].Name)
}

func TestExpand_OptionProduct(t *testing.T) {
	options := []Option{
		{Key: "A", Choices: []Choice{{Label: "x", Value: "1"}, {Label: "y", Value: "2"}}},
		{Key: "B", Choices: []Choice{{Label: "p", Value: "10"}, {Label: "q", Value: "20"}}},
		{Key: "fixed", Value: "7"},
	}

	set, err := Expand(nil, options, nil)
	require.NoError(t, err)
	require.Len(t, set.Opt, 4)

	// first option varies slowest
	assert.Equal(t, "x,p", set.Opt[0].Name)
	assert.Equal(t, "x,q", set.Opt[1].Name)
	assert.Equal(t, "y,p", set.Opt[2].Name)
	assert.Equal(t, "y,q", set.Opt[3].Name)

	for i, c := range set.Opt {
		assert.Equal(t, i, c.ID)
		assert.Equal(t, "7", c.Options["fixed"], "fixed scalar merged into case %d", i)
		assert.NotContains(t, c.Tags, "fixed", "fixed scalar must not appear in tags")
	}

	assert.Equal(t, map[string]string{"A": "x", "B": "p"}, set.Opt[0].Tags)
	assert.Equal(t, "1", set.Opt[0].Options["A"])
	assert.Equal(t, "20", set.Opt[3].Options["B"])
}

func TestExpand_OnlyFixedOptions(t *testing.T) {
	set, err := Expand(nil, []Option{{Key: "k", Value: "v"}}, nil)
	require.NoError(t, err)

	require.Len(t, set.Opt, 1)
	assert.Equal(t, 0, set.Opt[0].ID)
	assert.Equal(t, "", set.Opt[0].Name)
	assert.Empty(t, set.Opt[0].Tags)
	assert.Equal(t, "v", set.Opt[0].Options["k"])
}

func TestExpand_Deterministic(t *testing.T) {
	options := []Option{
		{Key: "A", Choices: []Choice{{Label: "x", Value: "1"}, {Label: "y", Value: "2"}}},
	}

	first, err := Expand([]string{"m"}, options, []string{"clamp"})
	require.NoError(t, err)
	second, err := Expand([]string{"m"}, options, []string{"clamp"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestExpand_OptionWithoutValueOrChoices(t *testing.T) {
	_, err := Expand(nil, []Option{{Key: "broken"}}, nil)
	assert.Error(t, err)
}

func TestExpand_PostLayer(t *testing.T) {
	set, err := Expand(nil, nil, []string{"clamp3", "rescale"})
	require.NoError(t, err)

	require.Len(t, set.Post, 2)
	assert.Equal(t, map[string]string{"post_fn": "clamp3"}, set.Post[0].Tags)
	assert.Equal(t, 1, set.Post[1].ID)
}

func TestFull_MergesTagsAndName(t *testing.T) {
	agg := Case{ID: 0, Name: "mean1", Tags: map[string]string{"agg_fn": "mean1"}}
	opt := Case{
		ID:      2,
		Name:    "sample",
		Tags:    map[string]string{"stdtype": "sample"},
		Options: map[string]string{"stdtype": "sample", "minsamples": "5"},
	}

	full := Full(agg, opt)

	assert.Equal(t, 2, full.ID)
	assert.Equal(t, "aggregation mean1, sample", full.Name)
	assert.Equal(t, map[string]string{
		"agg_fn":  "mean1",
		"stdtype": "sample",
		"post_fn": "",
	}, full.Tags)
	assert.Equal(t, "5", full.Options["minsamples"])

	// the source cases are untouched
	assert.NotContains(t, opt.Tags, "post_fn")
	assert.NotContains(t, opt.Tags, "agg_fn")
}

func TestFull_EmptyAggCase(t *testing.T) {
	opt := Case{ID: 0, Name: "sample", Tags: map[string]string{"stdtype": "sample"}}

	full := Full(Case{Tags: map[string]string{}}, opt)

	assert.Equal(t, "sample", full.Name)
	assert.Equal(t, "", full.Tags["post_fn"])
	assert.NotContains(t, full.Tags, "agg_fn")
}
