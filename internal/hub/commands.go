package hub

import (
	"fmt"
	"regexp"
	"strings"
)

// Administrative commands are recognized as the literal prefix of a
// public chat message. Command text is never broadcast; the result goes
// back privately to the issuer.
const (
	cmdBanAddr     = "/pb"
	cmdUnbanAddr   = "/unpb"
	cmdBanFP       = "/pbf"
	cmdUnbanFP     = "/unpbf"
	unknownAddress = "unknown"
)

var dottedQuad = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// command is a parsed administrative command.
type command struct {
	name string
	arg  string
}

// parseCommand checks whether content is command-shaped. Content whose
// first token is not one of the four commands is ordinary chat.
func parseCommand(content string) (command, bool) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return command{}, false
	}
	switch fields[0] {
	case cmdBanAddr, cmdUnbanAddr, cmdBanFP, cmdUnbanFP:
	default:
		return command{}, false
	}

	cmd := command{name: fields[0]}
	if len(fields) > 1 {
		cmd.arg = fields[1]
	}
	return cmd, true
}

// validAddressArg accepts a dotted-quad numeric address or the literal
// token "unknown" (the address recorded when a peer's address could not
// be determined).
func validAddressArg(arg string) bool {
	return arg == unknownAddress || dottedQuad.MatchString(arg)
}

// runCommand executes a parsed command against the ban registry and
// returns a human-readable result. Validation and business failures come
// back as errors; none of them are fatal. Disconnecting sessions swept
// by a new ban is the caller's job, after the result has been delivered:
// a ban can cover the issuer's own address, and the issuer must still
// hear the outcome before the close.
func (h *Hub) runCommand(actor string, cmd command) (string, error) {
	if cmd.arg == "" {
		return "", fmt.Errorf("%s: missing argument", cmd.name)
	}

	switch cmd.name {
	case cmdBanAddr, cmdUnbanAddr:
		if !validAddressArg(cmd.arg) {
			return "", fmt.Errorf("%s: invalid address %q", cmd.name, cmd.arg)
		}
	}

	switch cmd.name {
	case cmdBanAddr:
		res, err := h.bans.BanAddress(cmd.arg, actor)
		if err != nil {
			return "", err
		}
		return banSummary("banned address "+cmd.arg, len(res.Fingerprints), len(res.Addresses)-1), nil

	case cmdUnbanAddr:
		if _, err := h.bans.UnbanAddress(cmd.arg, actor); err != nil {
			return "", err
		}
		return "unbanned address " + cmd.arg, nil

	case cmdBanFP:
		res, err := h.bans.BanFingerprint(cmd.arg, actor)
		if err != nil {
			return "", err
		}
		return banSummary("banned fingerprint "+cmd.arg, len(res.Fingerprints)-1, len(res.Addresses)), nil

	case cmdUnbanFP:
		if _, err := h.bans.UnbanFingerprint(cmd.arg, actor); err != nil {
			return "", err
		}
		return "unbanned fingerprint " + cmd.arg, nil
	}

	return "", fmt.Errorf("unrecognized command %s", cmd.name)
}

// banSummary describes a ban plus whatever one-hop propagation reached.
func banSummary(head string, extraFPs, extraAddrs int) string {
	var parts []string
	if extraFPs > 0 {
		parts = append(parts, fmt.Sprintf("%d fingerprint(s)", extraFPs))
	}
	if extraAddrs > 0 {
		parts = append(parts, fmt.Sprintf("%d associated address(es)", extraAddrs))
	}
	if len(parts) == 0 {
		return head
	}
	return head + " (also banned " + strings.Join(parts, " and ") + ")"
}
