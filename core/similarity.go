package core

// Similarity scores two normalized names in [0, 0.98]. The base is the
// Ratcliff/Obershelp ratio 2M/T; containment, shared prefix/suffix and
// character overlap add small bonuses. The cap keeps a fuzzy hit below a
// literal exact match.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return maxSimilarity
	}

	ra, rb := []rune(a), []rune(b)
	score := sequenceRatio(ra, rb)
	score += containmentBonus(ra, rb)
	score += affixBonus(ra, rb)
	score += overlapBonus(ra, rb)

	if score > maxSimilarity {
		return maxSimilarity
	}
	return score
}

const maxSimilarity = 0.98

// sequenceRatio is 2*M/T where M counts characters in matching blocks
func sequenceRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 0
	}
	return 2 * float64(matchingChars(a, b)) / float64(total)
}

// matchingChars finds the longest common block, then recurses on both sides of it
func matchingChars(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	ai, bi, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}

	return size +
		matchingChars(a[:ai], b[:bi]) +
		matchingChars(a[ai+size:], b[bi+size:])
}

// longestCommonBlock returns the earliest longest common substring of a and b
func longestCommonBlock(a, b []rune) (ai, bi, size int) {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > size {
					size = curr[j]
					ai, bi = i-size, j-size
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return ai, bi, size
}

// containmentBonus rewards a short name (3+ chars) found inside the longer one
func containmentBonus(a, b []rune) float64 {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < 3 || !containsRunes(long, short) {
		return 0
	}
	return 0.15 * float64(len(short)) / float64(len(long))
}

// affixBonus rewards shared leading and trailing characters
func affixBonus(a, b []rune) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a) && suffix < len(b) && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	return 0.05*float64(prefix)/float64(longest) + 0.05*float64(suffix)/float64(longest)
}

// overlapBonus is a small Jaccard bonus over the character sets
func overlapBonus(a, b []rune) float64 {
	setA := make(map[rune]struct{}, len(a))
	for _, r := range a {
		setA[r] = struct{}{}
	}
	setB := make(map[rune]struct{}, len(b))
	for _, r := range b {
		setB[r] = struct{}{}
	}

	shared := 0
	for r := range setA {
		if _, ok := setB[r]; ok {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	if union == 0 {
		return 0
	}
	return 0.05 * float64(shared) / float64(union)
}

func containsRunes(haystack, needle []rune) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
