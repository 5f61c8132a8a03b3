// Package cases expands an index configuration into its concrete
// computation variants. Variants come in three independent layers:
// aggregation cases, option cases (the Cartesian product of permutable
// options) and post-processing cases. Tags are the only channel used to
// scope persisted reads and writes.
package cases

import (
	"strings"

	"github.com/pluvio/hydroclim-go/internal/utils"
)

// Case is one concrete computation variant. ID is assigned by enumeration
// order and is stable across runs with identical configuration. Tags scope
// store keys; Options carries the concrete parameter values visible to
// fitters and formulas.
type Case struct {
	ID      int               `json:"id"`
	Name    string            `json:"name"`
	Tags    map[string]string `json:"tags"`
	Options map[string]string `json:"options,omitempty"`
}

// CloneTags returns a copy of the case's tag map.
func (c Case) CloneTags() map[string]string {
	out := make(map[string]string, len(c.Tags))
	for k, v := range c.Tags {
		out[k] = v
	}
	return out
}

// Choice is one selectable value of a permutable option.
type Choice struct {
	Label string
	Value string
}

// Option is a single configuration entry: permutable when it declares
// choices, a fixed scalar otherwise. Declaration order is significant; it
// fixes the enumeration order of the option-case product.
type Option struct {
	Key     string
	Value   string
	Choices []Choice
}

// Permutable reports whether the option contributes to the case product.
func (o Option) Permutable() bool {
	return len(o.Choices) > 0
}

// Set holds the three expanded case layers.
type Set struct {
	Agg  []Case `json:"agg"`
	Opt  []Case `json:"opt"`
	Post []Case `json:"post"`
}

// Expand builds the three case layers from the registered aggregation
// names, the ordered option list and the post-processing names. It fails
// on a permutable option with no choices or an option with neither value
// nor choices.
func Expand(aggNames []string, options []Option, postNames []string) (Set, error) {
	var set Set

	for i, name := range aggNames {
		set.Agg = append(set.Agg, Case{
			ID:   i,
			Name: name,
			Tags: map[string]string{"agg_fn": name},
		})
	}

	opt, err := expandOptions(options)
	if err != nil {
		return Set{}, err
	}
	set.Opt = opt

	for i, name := range postNames {
		set.Post = append(set.Post, Case{
			ID:   i,
			Name: name,
			Tags: map[string]string{"post_fn": name},
		})
	}

	return set, nil
}

// expandOptions enumerates the Cartesian product over permutable options in
// declaration order, the first option varying slowest. Fixed scalars merge
// into every case's Options and contribute no tag or name fragment.
func expandOptions(options []Option) ([]Case, error) {
	var permutable []Option
	fixed := map[string]string{}
	for _, o := range options {
		switch {
		case o.Permutable():
			permutable = append(permutable, o)
		case o.Value != "":
			fixed[o.Key] = o.Value
		default:
			return nil, utils.NewValidationErrorf("option %q has neither a value nor choices", o.Key)
		}
	}

	total := 1
	for _, o := range permutable {
		total *= len(o.Choices)
	}

	caseList := make([]Case, 0, total)
	for id := 0; id < total; id++ {
		c := Case{
			ID:      id,
			Tags:    map[string]string{},
			Options: map[string]string{},
		}
		for k, v := range fixed {
			c.Options[k] = v
		}

		// decode the enumeration index most-significant-first, so the
		// first declared option varies slowest
		rem := id
		stride := total
		var labels []string
		for _, o := range permutable {
			stride /= len(o.Choices)
			choice := o.Choices[rem/stride]
			rem %= stride

			c.Tags[o.Key] = choice.Label
			c.Options[o.Key] = choice.Value
			labels = append(labels, choice.Label)
		}
		c.Name = strings.Join(labels, ",")
		caseList = append(caseList, c)
	}

	return caseList, nil
}

// Full pairs one aggregation case (possibly the empty case) with one option
// case into the variant used for index computation. The merged tags carry
// an empty post_fn so the base index series is scoped apart from any
// post-processed series.
func Full(agg, opt Case) Case {
	full := Case{
		ID:      opt.ID,
		Name:    opt.Name,
		Tags:    opt.CloneTags(),
		Options: map[string]string{},
	}
	for k, v := range opt.Options {
		full.Options[k] = v
	}
	for k, v := range agg.Tags {
		full.Tags[k] = v
	}
	full.Tags["post_fn"] = ""

	if agg.Name != "" {
		full.Name = "aggregation " + agg.Name
		if opt.Name != "" {
			full.Name += ", " + opt.Name
		}
	}
	return full
}
