package aspacem

import "golang.org/x/exp/constraints"

func Align[I constraints.Integer](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}

func AlignDown[I constraints.Integer](a, b I) I {
	return a &^ (b - 1)
}

func IsAligned[I constraints.Integer](a, b I) bool {
	return a&(b-1) == 0
}
