// Package locktoken encodes and parses the value stored at an occupied lock
// key: the tuple (owning process, owning thread, re-entrant depth).
package locktoken

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adnymics/redicts/errs"
)

// Token is the decoded form of a lock entry's value.
type Token struct {
	PID   int
	TID   int64
	Depth int
}

// Encode renders a token as "pid:tid:depth".
func Encode(pid int, tid int64, depth int) string {
	return fmt.Sprintf("%d:%d:%d", pid, tid, depth)
}

// Decode parses a token previously produced by Encode. A string with fewer
// than three colon-separated parts, or any non-integer component, fails
// with errs.ErrInternal: only tampering or a bug produces such a value,
// never ordinary user error.
func Decode(s string) (Token, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Token{}, fmt.Errorf("%w: bad lock token %q", errs.ErrInternal, s)
	}

	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return Token{}, fmt.Errorf("%w: bad lock token %q", errs.ErrInternal, s)
	}
	tid, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: bad lock token %q", errs.ErrInternal, s)
	}
	depth, err := strconv.Atoi(parts[2])
	if err != nil {
		return Token{}, fmt.Errorf("%w: bad lock token %q", errs.ErrInternal, s)
	}

	return Token{PID: pid, TID: tid, Depth: depth}, nil
}
