package key

import "fmt"

// Index identifies one participant within a session. Valid indices lie in
// [0, n) where n is the participant count.
type Index uint32

func (i Index) String() string {
	return fmt.Sprintf("%d", uint32(i))
}

// Valid reports whether the index addresses one of n participants.
func (i Index) Valid(n int) bool {
	return n > 0 && int(i) < n
}

// Quorum returns the minimum number of distinct signers needed for a
// multisignature to be complete among n participants: floor(2n/3) + 1.
func Quorum(n int) int {
	return 2*n/3 + 1
}

// MaxFaulty returns how many faulty participants a session of n tolerates.
func MaxFaulty(n int) int {
	if n < 1 {
		return 0
	}
	return (n - 1) / 3
}
