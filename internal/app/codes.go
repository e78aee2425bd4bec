package app

import (
	"fmt"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/randutil"
)

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz"

const maxCodeAttempts = 16

// NewRoomCode draws a meeting code shaped like "abc-defg-hij" that the
// registry does not hold yet.
func NewRoomCode(reg *Registry) (domain.RoomCode, error) {
	for range maxCodeAttempts {
		parts := make([]string, 0, 3)
		for _, n := range []int{3, 4, 3} {
			s, err := randutil.GenerateCryptoRandomString(n, codeAlphabet)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		code := domain.RoomCode(fmt.Sprintf("%s-%s-%s", parts[0], parts[1], parts[2]))
		if !reg.Has(code) {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free room code after %d attempts", maxCodeAttempts)
}
