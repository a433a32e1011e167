package repo

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Credentials are the push credentials gathered from configuration and the
// environment. At most one method is used: a token wins over an SSH key.
type Credentials struct {
	Token         string
	Username      string
	SSHKeyPath    string
	SSHPassphrase string
}

// AuthMethod builds the go-git auth method for c. It returns nil when no
// credentials are configured, leaving go-git to its defaults (local paths,
// SSH agent).
func (c Credentials) AuthMethod() (transport.AuthMethod, error) {
	switch {
	case c.Token != "":
		user := c.Username
		if user == "" {
			// Most hosts accept any non-empty username alongside a token.
			user = "x-access-token"
		}
		return &http.BasicAuth{Username: user, Password: c.Token}, nil
	case c.SSHKeyPath != "":
		user := c.Username
		if user == "" {
			user = "git"
		}
		keys, err := ssh.NewPublicKeysFromFile(user, c.SSHKeyPath, c.SSHPassphrase)
		if err != nil {
			return nil, fmt.Errorf("load SSH key %s: %w", c.SSHKeyPath, err)
		}
		return keys, nil
	default:
		return nil, nil
	}
}
