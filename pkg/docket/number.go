package docket

import (
	"regexp"
	"strings"
)

// numberPattern matches a docket number embedded in display text: exactly
// five digits optionally followed by a 1-3 letter suffix, delimited by
// non-alphanumeric characters or the ends of the string.
var numberPattern = regexp.MustCompile(`(?:^|[^0-9A-Za-z])([0-9]{5})([A-Za-z]{1,3})?(?:$|[^0-9A-Za-z])`)

// ParseNumber extracts the first docket number from a display name.
// The returned number has its suffix upper-cased. ok is false when the
// text carries no parseable number.
func ParseNumber(displayName string) (number string, ok bool) {
	m := numberPattern.FindStringSubmatch(displayName)
	if m == nil {
		return "", false
	}
	return m[1] + strings.ToUpper(m[2]), true
}

// SplitDisplayName separates a display name into its docket number and
// the remaining job name. The job name is the display text with the
// number removed; the text on either side of the number is trimmed of
// separators and rejoined with a single space. When no number is
// present the whole trimmed text is returned as the job name.
func SplitDisplayName(displayName string) (number, jobName string, ok bool) {
	loc := numberPattern.FindStringSubmatchIndex(displayName)
	if loc == nil {
		return "", strings.TrimSpace(displayName), false
	}
	number = displayName[loc[2]:loc[3]]
	end := loc[3]
	if loc[4] >= 0 {
		number += strings.ToUpper(displayName[loc[4]:loc[5]])
		end = loc[5]
	}
	prefix := strings.Trim(displayName[:loc[2]], separatorCutset)
	suffix := strings.Trim(displayName[end:], separatorCutset)
	switch {
	case prefix == "":
		jobName = suffix
	case suffix == "":
		jobName = prefix
	default:
		jobName = prefix + " " + suffix
	}
	return number, jobName, true
}

const separatorCutset = " \t-_.:"
