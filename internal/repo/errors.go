package repo

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/lucasnoah/releasekit/internal/errs"
)

// classifyPushError maps go-git push failures onto the error taxonomy. The
// remote rejecting a non-fast-forward update is never retried; transport
// failures and timeouts are.
func classifyPushError(ctx context.Context, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, git.ErrNonFastForwardUpdate),
		errors.Is(err, git.ErrForceNeeded),
		strings.Contains(msg, "non-fast-forward"),
		strings.Contains(msg, "rejected"):
		return errs.Wrap(errs.PushRejected, "push", err)
	case errors.Is(err, git.ErrRemoteNotFound):
		return errs.Wrap(errs.NoRemote, "push", err)
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrInvalidAuthMethod),
		errors.Is(err, transport.ErrRepositoryNotFound):
		return errs.Wrap(errs.RepositoryError, "push", err)
	case errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		return err
	case isNetworkError(err) || ctx.Err() != nil:
		return errs.Wrap(errs.NetworkError, "push", err)
	default:
		return errs.Wrap(errs.RepositoryError, "push", err)
	}
}

var networkHints = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"timeout",
	"no such host",
	"unexpected eof",
	"network is unreachable",
	"tls handshake",
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, h := range networkHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}
