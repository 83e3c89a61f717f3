package sweep

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ConfirmPolicy decides whether a loop may proceed when an axis parameter is
// found away from its sweep start value. prompt describes the mismatch.
type ConfirmPolicy interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to a ConfirmPolicy.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// AllowAll approves every safety prompt. Suitable for unattended runs where
// the axes are known to be parked safely.
func AllowAll() ConfirmPolicy {
	return ConfirmFunc(func(string) bool { return true })
}

// DenyAll rejects every safety prompt.
func DenyAll() ConfirmPolicy {
	return ConfirmFunc(func(string) bool { return false })
}

// Interactive prompts on w and reads a y/n answer from r. Anything other
// than an explicit yes declines.
func Interactive(r io.Reader, w io.Writer) ConfirmPolicy {
	br := bufio.NewReader(r)
	return ConfirmFunc(func(prompt string) bool {
		fmt.Fprintf(w, "%s [y/N] ", prompt)
		line, err := br.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	})
}
