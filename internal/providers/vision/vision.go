package vision

import (
	"context"
	"errors"
	"regexp"
	"strconv"
)

// Counter estimates how many people are visible in a still image.
type Counter interface {
	CountPeople(ctx context.Context, image []byte, mimeType string) (int, error)
	Close() error
}

var (
	firstInt = regexp.MustCompile(`-?\d+`)

	ErrNoCount = errors.New("model reply has no count")
)

// ParseCount reads the first integer in a model reply, clamped at zero.
func ParseCount(reply string) (int, error) {
	m := firstInt.FindString(reply)
	if m == "" {
		return 0, ErrNoCount
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}
