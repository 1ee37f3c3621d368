package evaluator

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
)

// hashPrefixLen is the number of hex digits of the digest used for bucketing
const hashPrefixLen = 7

// evaluateRules returns the value of the first matching rule.
// Rules whose attribute is missing on the user are skipped.
func evaluateRules(rules []domain.TargetingRule, user *domain.User) (int, any, bool) {
	for i, rule := range rules {
		attr, ok := user.Attribute(rule.ComparisonAttribute)
		if !ok {
			continue
		}

		if matchRule(rule, attr) {
			return i, rule.Value, true
		}
	}

	return -1, nil, false
}

// matchRule applies the rule comparator to a resolved attribute
func matchRule(rule domain.TargetingRule, attr string) bool {
	switch rule.Comparator {
	case domain.ComparatorIn:
		return inList(rule.ComparisonValue, attr)

	case domain.ComparatorNotIn:
		return !inList(rule.ComparisonValue, attr)

	case domain.ComparatorContains:
		return strings.Contains(attr, rule.ComparisonValue)

	case domain.ComparatorNotContains:
		return !strings.Contains(attr, rule.ComparisonValue)

	default:
		return false
	}
}

// inList checks attr against a comma separated list, each token trimmed
func inList(list, attr string) bool {
	for _, token := range strings.Split(list, ",") {
		if strings.TrimSpace(token) == attr {
			return true
		}
	}
	return false
}

// Bucket draws the stable percentage bucket in [0,100) for key and identifier.
// It is the SHA-1 hex digest of key+identifier, first seven digits, mod 100.
func Bucket(key, identifier string) int {
	sum := sha1.Sum([]byte(key + identifier))
	prefix := hex.EncodeToString(sum[:])[:hashPrefixLen]

	// seven hex digits always fit in 28 bits
	n, _ := strconv.ParseUint(prefix, 16, 32)
	return int(n % 100)
}

// evaluateVariations walks the cumulative thresholds. Percentages summing
// to less than 100 leave the upper buckets unmatched.
func evaluateVariations(items []domain.PercentageVariation, bucket int) (any, bool) {
	cumulative := 0
	for _, item := range items {
		cumulative += item.Percentage
		if bucket < cumulative {
			return item.Value, true
		}
	}
	return nil, false
}
