package rtr

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"roafetch/pkg/model"
)

// ErrSSHUnsupported is returned when an SSH transport is requested. The RPKI
// client only speaks plain TCP to cache servers.
const ErrSSHUnsupported = model.Error("SSH transport to RTR cache servers is not supported")

const sshFields = 3

// SSHOptions names the credentials for an SSH connection to a cache server
type SSHOptions struct {
	User           string
	HostKeyPath    string
	PrivateKeyPath string
}

// ParseSSHOptions parses "user,hostkey,privkey"
func ParseSSHOptions(s string) (*SSHOptions, error) {
	fields := strings.Split(s, ",")
	if len(fields) != sshFields {
		return nil, fmt.Errorf("%w: SSH options need user,hostkey,privkey, got %d fields", model.ErrInvalidInput, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
		if fields[i] == "" {
			return nil, fmt.Errorf("%w: empty SSH option in %q", model.ErrInvalidInput, s)
		}
	}
	return &SSHOptions{User: fields[0], HostKeyPath: fields[1], PrivateKeyPath: fields[2]}, nil
}

// Check loads both key files and verifies they hold SSH keys
func (o *SSHOptions) Check() error {
	hostKey, err := os.ReadFile(o.HostKeyPath)
	if err != nil {
		return fmt.Errorf("%w: failed to read host key: %v", model.ErrIO, err)
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey(hostKey); err != nil {
		if _, _, _, _, _, err := ssh.ParseKnownHosts(hostKey); err != nil {
			return fmt.Errorf("%w: %s is not a public host key", model.ErrInvalidInput, o.HostKeyPath)
		}
	}

	privKey, err := os.ReadFile(o.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("%w: failed to read private key: %v", model.ErrIO, err)
	}
	if _, err := ssh.ParsePrivateKey(privKey); err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrInvalidInput, o.PrivateKeyPath, err)
	}
	return nil
}
