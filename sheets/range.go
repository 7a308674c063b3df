package sheets

import "fmt"

// ColumnLetters converts a 1-based column index to spreadsheet column
// letters: 1 -> "A", 26 -> "Z", 27 -> "AA", 28 -> "AB".
func ColumnLetters(n int) string {
	if n <= 0 {
		return ""
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		n--
		i--
		buf[i] = byte('A' + n%26)
		n /= 26
	}
	return string(buf[i:])
}

// ColumnIndex is the inverse of ColumnLetters. It returns 0 for input
// that is not an upper-case column reference.
func ColumnIndex(letters string) int {
	if letters == "" {
		return 0
	}
	n := 0
	for i := 0; i < len(letters); i++ {
		c := letters[i]
		if c < 'A' || c > 'Z' {
			return 0
		}
		n = n*26 + int(c-'A') + 1
	}
	return n
}

// headerRange spans the full header row: "Sheet!A{r}:ZZ{r}".
func headerRange(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:ZZ%d", sheet, row, row)
}

// blockRange spans rows startRow..endRow over width columns starting at
// A. endRow <= 0 leaves the range open-ended downwards.
func blockRange(sheet string, startRow, endRow, width int) string {
	last := ColumnLetters(width)
	if endRow <= 0 {
		return fmt.Sprintf("%s!A%d:%s", sheet, startRow, last)
	}
	return fmt.Sprintf("%s!A%d:%s%d", sheet, startRow, last, endRow)
}
