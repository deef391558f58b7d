package encoding

type layout struct {
	handler handler
	size    int
	align   int
}

func align(n, a int) int {
	return (n + a - 1) / a * a
}
