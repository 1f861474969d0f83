package intent

// similarity returns a normalized edit similarity between two strings in
// [0, 1], where 1 means identical. Based on Levenshtein distance over
// bytes; rule keywords and message tokens are ASCII in practice.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}

	return 1.0 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes the edit distance using a single-row dynamic
// programming table.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur := row[j]

			best := prev + cost
			if row[j]+1 < best {
				best = row[j] + 1
			}
			if row[j-1]+1 < best {
				best = row[j-1] + 1
			}

			row[j] = best
			prev = cur
		}
	}

	return row[len(b)]
}
