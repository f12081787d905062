// Package device computes the pseudo-stable identifier the server uses to
// detect an attempt being continued from a different machine.
package device

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// namespace scopes fingerprints so they never collide with other name-based UUIDs.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://exstem.local/device-fingerprint"))

// Traits are the local facts a fingerprint is derived from.
type Traits struct {
	Hostname string
	OS       string
	Arch     string
	Username string
	Salt     string
}

// Result is delivered by Compute once the fingerprint is ready.
type Result struct {
	ID  string
	Err error
}

// Collect reads the traits of the current machine.
func Collect(salt string) (Traits, error) {
	host, err := os.Hostname()
	if err != nil {
		return Traits{}, fmt.Errorf("read hostname: %w", err)
	}
	t := Traits{
		Hostname: host,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Salt:     salt,
	}
	if u, err := user.Current(); err == nil {
		t.Username = u.Username
	}
	return t, nil
}

// Fingerprint derives a stable identifier from traits.
func Fingerprint(t Traits) string {
	name := strings.Join([]string{
		strings.ToLower(t.Hostname), t.OS, t.Arch, t.Username, t.Salt,
	}, "|")
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// Compute collects traits and fingerprints them off the caller's goroutine.
// The channel receives exactly one Result and is then closed.
func Compute(ctx context.Context, salt string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		t, err := Collect(salt)
		if err != nil {
			out <- Result{Err: err}
			return
		}
		select {
		case <-ctx.Done():
			out <- Result{Err: ctx.Err()}
		default:
			out <- Result{ID: Fingerprint(t)}
		}
	}()
	return out
}

// Await blocks until the fingerprint is ready or ctx is done.
func Await(ctx context.Context, ch <-chan Result) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-ch:
		if !ok {
			return "", fmt.Errorf("fingerprint channel closed")
		}
		return res.ID, res.Err
	}
}
