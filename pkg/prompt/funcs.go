package prompt

import (
	"math/rand/v2"
	"reflect"
)

// randomWord returns a single random word from the loaded topic word list.
func randomWord() string {
	if wordCount == 0 {
		return ""
	}
	return wordList[rand.IntN(wordCount)]
}

// randomChoice selects and returns a single random element from a slice.
func randomChoice(slice any) any {
	if slice == nil {
		return nil
	}

	val := reflect.ValueOf(slice)
	if val.Kind() != reflect.Slice {
		// Fail silently here
		// Otherwise we have to make this dependent on a Manager instance to use the logger
		return nil
	}
	if val.Len() == 0 {
		return nil
	}

	randomIndex := rand.IntN(val.Len())
	return val.Index(randomIndex).Interface()
}

// randomInt returns a random integer within the range [min, max).
func randomInt(min, max int) int {
	if min >= max {
		return min
	}
	return rand.IntN(max-min) + min
}

// repeat returns a slice of integers from 0 to count-1, capped by the
// configured MaxRepeat limit.
func (m *Manager) repeat(count int) []int {
	if count < 0 {
		return []int{}
	}
	if m.config.MaxRepeat > 0 && count > m.config.MaxRepeat {
		count = m.config.MaxRepeat
	}
	s := make([]int, count)
	for i := 0; i < count; i++ {
		s[i] = i
	}
	return s
}

// list returns a slice containing all the arguments passed to it.
func list(args ...any) []any {
	return args
}

// add returns a + b.
func add(a, b int) int {
	return a + b
}

// sub returns a - b.
func sub(a, b int) int {
	return a - b
}

// mult returns a * b.
func mult(a, b int) int {
	return a * b
}

// inc returns i + 1.
func inc(i int) int {
	return i + 1
}

// dec returns i - 1.
func dec(i int) int {
	return i - 1
}
