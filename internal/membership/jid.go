package membership

import (
	"strings"
	"unicode"
)

const userServer = "@s.whatsapp.net"

// NormalizeJID turns a phone number in any common notation (+62 812-..., 0812...)
// into a WhatsApp user JID. Input that already is a JID is returned unchanged;
// input without any digits yields "".
func NormalizeJID(number string) string {
	if strings.HasSuffix(number, userServer) {
		return number
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, number)
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return ""
	}
	return digits + userServer
}

// MaskJID hides the tail of the phone number for alerts and logs shared outside ops.
func MaskJID(jid string) string {
	user, server, found := strings.Cut(jid, "@")
	if len(user) <= 4 {
		return jid
	}
	masked := user[:4] + strings.Repeat("*", len(user)-4)
	if !found {
		return masked
	}
	return masked + "@" + server
}

// AllowList is the configured set of identities that skip the group check.
type AllowList struct {
	jids map[string]struct{}
}

func NewAllowList(entries []string) *AllowList {
	a := &AllowList{jids: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		if jid := NormalizeJID(strings.TrimSpace(e)); jid != "" {
			a.jids[jid] = struct{}{}
		}
	}
	return a
}

func (a *AllowList) IsPrivileged(jid string) bool {
	if a == nil {
		return false
	}
	_, ok := a.jids[jid]
	return ok
}
