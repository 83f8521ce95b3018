package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CaseIDPrefix returns the period prefix, e.g. "HCP-26-".
func CaseIDPrefix(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s-", prefix, at.Format("06"))
}

// FormatCaseID renders an identifier under a period prefix.
func FormatCaseID(periodPrefix string, seq int) string {
	return fmt.Sprintf("%s%03d", periodPrefix, seq)
}

// CaseIDSequence extracts the trailing sequence number of an identifier.
func CaseIDSequence(id string) (int, bool) {
	idx := strings.LastIndex(id, "-")
	if idx < 0 || idx == len(id)-1 {
		return 0, false
	}
	seq, err := strconv.Atoi(id[idx+1:])
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}
