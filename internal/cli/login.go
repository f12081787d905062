package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/stemsi/exstem-taker/internal/auth"
	"github.com/stemsi/exstem-taker/internal/model"
	"golang.org/x/term"
)

// Authenticator exchanges credentials for tokens.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*model.TokenPair, error)
}

// Prompt reads the username from in and the password without echo when in
// is a terminal.
type Prompt struct {
	in     *bufio.Reader
	out    io.Writer
	passFD int
}

// NewPrompt creates a Prompt on stdin.
func NewPrompt(out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(os.Stdin), out: out, passFD: int(os.Stdin.Fd())}
}

// NewPromptFrom creates a Prompt reading everything, passwords included, from in.
func NewPromptFrom(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out, passFD: -1}
}

// Reader returns the buffered input so later readers see what the prompt
// has already buffered.
func (p *Prompt) Reader() io.Reader {
	return p.in
}

// Line prints label and returns the trimmed answer.
func (p *Prompt) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	s, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Password prints label and reads a secret.
func (p *Prompt) Password(label string) (string, error) {
	if p.passFD < 0 || !term.IsTerminal(p.passFD) {
		return p.Line(label)
	}
	fmt.Fprint(p.out, label)
	b, err := term.ReadPassword(p.passFD)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// EnsureSignedIn returns the current auth state, asking for credentials
// when nobody is signed in or the token has expired.
func EnsureSignedIn(ctx context.Context, store *auth.Store, api Authenticator, p *Prompt) (auth.State, error) {
	if st, ok := store.Current(); ok {
		return st, nil
	}

	username, err := p.Line("Username: ")
	if err != nil {
		return auth.State{}, fmt.Errorf("read username: %w", err)
	}
	password, err := p.Password("Password: ")
	if err != nil {
		return auth.State{}, err
	}

	pair, err := api.Login(ctx, username, password)
	if err != nil {
		return auth.State{}, fmt.Errorf("login: %w", err)
	}
	st, err := store.Login(ctx, *pair)
	if err != nil {
		return auth.State{}, fmt.Errorf("store login: %w", err)
	}
	return st, nil
}
