// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package tags

import (
	"regexp"
	"sort"
	"strings"
)

var mentionPattern = regexp.MustCompile(`(?i)@[a-z0-9_-]+`)

// Extract returns the distinct lowercase @handles found in text, without
// the leading '@'. The result is sorted.
func Extract(text string) []string {
	matches := mentionPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return []string{}
	}

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := strings.ToLower(m[1:])
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
