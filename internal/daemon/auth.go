package daemon

import (
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// accountPattern matches spec §3's account-name rule.
var accountPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

// tokenPath returns <hub>/tokens/<account>.token.
func (d *Daemon) tokenPath(account string) string {
	return filepath.Join(d.Config.HubDir, "tokens", account+".token")
}

// verifyToken checks tok against the account's token file in constant
// time, after validating the account name against the regex.
func (d *Daemon) verifyToken(account, tok string) bool {
	if !accountPattern.MatchString(account) {
		return false
	}
	want, err := os.ReadFile(d.tokenPath(account))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, []byte(tok)) == 1
}

// issueToken writes (or overwrites) the token file for account, for
// operator bootstrap flows (not exercised over the wire protocol
// itself).
func (d *Daemon) issueToken(account string, token []byte) error {
	if !accountPattern.MatchString(account) {
		return fmt.Errorf("daemon: invalid account name %q", account)
	}
	if err := os.MkdirAll(filepath.Join(d.Config.HubDir, "tokens"), 0o700); err != nil {
		return err
	}
	return os.WriteFile(d.tokenPath(account), token, 0o600)
}
