package main

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ysasiwat/syncstage/pkg/syncstage/filter"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// addFilterFlags registers the record selection flags on cmd. Listing
// commands also get sorting and a limit.
func (a *app) addFilterFlags(cmd *cobra.Command, listing bool) {
	f := cmd.Flags()
	f.String("min-size", "", "skip files smaller than this (e.g. 100K, 1MiB)")
	f.String("max-size", "", "skip files larger than this")
	f.String("older-than", "", "only files modified before this long ago (e.g. 30d, 1y)")
	f.String("newer-than", "", "only files modified within this long")
	f.String("type", "", "file type groups, comma separated (video, image, audio, archive, document, code)")
	f.String("ext", "", "extensions, comma separated (e.g. jpg,heic)")
	f.String("include", "", "only paths matching these globs, comma separated")
	f.String("exclude", "", "skip paths matching these globs, comma separated")

	keys := []string{"min-size", "max-size", "older-than", "newer-than", "type", "ext", "include", "exclude"}
	if listing {
		f.IntP("limit", "l", 0, "show at most this many files (0 = all)")
		f.String("sort", "path", "sort by path, size or age")
		f.Bool("reverse", false, "reverse the sort order")
		keys = append(keys, "limit", "sort", "reverse")
	}
	for _, k := range keys {
		a.bind(f, k, "filter."+strings.ReplaceAll(k, "-", "_"))
	}
}

// buildFilter creates a filter.Filter from the bound filter flags.
func buildFilter(v *viper.Viper) (*filter.Filter, error) {
	var opts []filter.Option

	if s := v.GetString("filter.min_size"); s != "" {
		n, err := types.ParseSize(s)
		if err != nil {
			return nil, fmt.Errorf("invalid min-size %q: %w", s, err)
		}
		opts = append(opts, filter.WithMinSize(n))
	}
	if s := v.GetString("filter.max_size"); s != "" {
		n, err := types.ParseSize(s)
		if err != nil {
			return nil, fmt.Errorf("invalid max-size %q: %w", s, err)
		}
		opts = append(opts, filter.WithMaxSize(n))
	}
	if s := v.GetString("filter.older_than"); s != "" {
		d, err := filter.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid older-than %q: %w", s, err)
		}
		opts = append(opts, filter.WithOlderThan(d))
	}
	if s := v.GetString("filter.newer_than"); s != "" {
		d, err := filter.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid newer-than %q: %w", s, err)
		}
		opts = append(opts, filter.WithNewerThan(d))
	}
	if groups := parseCommaSeparated(v.GetString("filter.type")); len(groups) > 0 {
		opts = append(opts, filter.WithTypeGroups(groups...))
	}
	if exts := parseCommaSeparated(v.GetString("filter.ext")); len(exts) > 0 {
		opts = append(opts, filter.WithExtensions(exts...))
	}
	if patterns := parseCommaSeparated(v.GetString("filter.include")); len(patterns) > 0 {
		opts = append(opts, filter.WithInclude(patterns...))
	}
	if patterns := parseCommaSeparated(v.GetString("filter.exclude")); len(patterns) > 0 {
		opts = append(opts, filter.WithExclude(patterns...))
	}

	opts = append(opts, filter.WithLimit(v.GetInt("filter.limit")))

	field, err := filter.ParseSortField(v.GetString("filter.sort"))
	if err != nil {
		return nil, err
	}
	// Largest first for size; oldest first for age; A to Z for paths.
	descending := field == filter.SortSize
	if v.GetBool("filter.reverse") {
		descending = !descending
	}
	opts = append(opts, filter.WithSort(field, descending))

	return filter.New(opts...)
}

// parseCommaSeparated splits a comma-separated string and trims whitespace.
func parseCommaSeparated(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	}))
}
