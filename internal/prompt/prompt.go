// Package prompt reads the activation token from the operator.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrCancelled is returned when the operator interrupts the prompt.
var ErrCancelled = errors.New("operation cancelled by user")

// Token asks for the activation token on stdin. Input is hidden on a terminal
// and the terminal state is restored if the prompt is interrupted.
func Token(ctx context.Context, out io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return ReadLine(ctx, os.Stdin, out, label)
	}

	state, err := term.GetState(fd)
	if err != nil {
		return "", fmt.Errorf("reading terminal state: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	fmt.Fprintf(out, "%s: ", label)

	type readResult struct {
		value []byte
		err   error
	}
	done := make(chan readResult, 1)
	go func() {
		value, err := term.ReadPassword(fd)
		done <- readResult{value, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(out)
		return "", ErrCancelled
	case res := <-done:
		fmt.Fprintln(out)
		if res.err != nil {
			return "", fmt.Errorf("reading token: %w", res.err)
		}
		return strings.TrimSpace(string(res.value)), nil
	}
}

// ReadLine prints label and reads one line from in. An empty input at EOF
// returns "", leaving validation to the caller.
func ReadLine(ctx context.Context, in io.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprintf(out, "%s: ", label)

	type readResult struct {
		value string
		err   error
	}
	done := make(chan readResult, 1)
	go func() {
		value, err := bufio.NewReader(in).ReadString('\n')
		done <- readResult{value, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(out)
		return "", ErrCancelled
	case res := <-done:
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return "", fmt.Errorf("reading token: %w", res.err)
		}
		return strings.TrimSpace(res.value), nil
	}
}
