// Package banlist tracks bans across two identifier spaces: network
// addresses and client-supplied device fingerprints. Every time an
// address submits a fingerprint the pair is recorded, building a
// bidirectional association map that lets a ban on one identifier
// propagate to identifiers directly associated with it (one hop only,
// never a transitive closure).
//
// Like the history store, the registry is mutated only from the hub's
// event goroutine and carries no locks of its own.
package banlist

import (
	"errors"
	"log/slog"
)

var ErrAddressAlreadyBanned = errors.New("address is already banned")
var ErrAddressNotBanned = errors.New("address is not banned")
var ErrFingerprintAlreadyBanned = errors.New("fingerprint is already banned")
var ErrFingerprintNotBanned = errors.New("fingerprint is not banned")

// TrackResult reports the outcome of recording an address/fingerprint pair.
type TrackResult int

const (
	// TrackClean: neither identifier is banned.
	TrackClean TrackResult = iota
	// TrackKnownBanned: the fingerprint is banned and the address was
	// already banned too; nothing changed.
	TrackKnownBanned
	// TrackEvasion: the fingerprint is banned and the address was not,
	// so the address has just been auto-banned. This is the ban-evasion
	// signal: a banned device reconnecting from a fresh address.
	TrackEvasion
)

// BanResult lists the identifiers newly banned by a single operation.
type BanResult struct {
	Addresses    []string
	Fingerprints []string
}

// Registry is the ban and association state for one hub process.
// Associations are recorded the first time a pair co-occurs and are never
// removed; unban operations clear only the ban sets.
type Registry struct {
	bannedAddrs map[string]struct{}
	bannedFPs   map[string]struct{}
	addrToFPs   map[string]map[string]struct{}
	fpToAddrs   map[string]map[string]struct{}
	lastFP      map[string]string // most recent fingerprint seen per address
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bannedAddrs: make(map[string]struct{}),
		bannedFPs:   make(map[string]struct{}),
		addrToFPs:   make(map[string]map[string]struct{}),
		fpToAddrs:   make(map[string]map[string]struct{}),
		lastFP:      make(map[string]string),
	}
}

// TrackAssociation records that addr submitted fp. If fp is already
// banned the address is banned as well, and the result distinguishes a
// fresh auto-ban (evasion) from an already-known-banned pair. It always
// succeeds and never blocks.
func (r *Registry) TrackAssociation(addr, fp string) TrackResult {
	r.associate(addr, fp)
	r.lastFP[addr] = fp

	if !r.IsFingerprintBanned(fp) {
		return TrackClean
	}
	if r.IsAddressBanned(addr) {
		return TrackKnownBanned
	}
	r.bannedAddrs[addr] = struct{}{}
	slog.Warn("ban evasion detected", "address", addr, "fingerprint", fp)
	return TrackEvasion
}

// IsAddressBanned reports whether addr is banned.
func (r *Registry) IsAddressBanned(addr string) bool {
	_, ok := r.bannedAddrs[addr]
	return ok
}

// IsFingerprintBanned reports whether fp is banned.
func (r *Registry) IsFingerprintBanned(fp string) bool {
	_, ok := r.bannedFPs[fp]
	return ok
}

// LastFingerprint returns the fingerprint most recently associated with
// addr, or "" if none has been seen.
func (r *Registry) LastFingerprint(addr string) string {
	return r.lastFP[addr]
}

// BanAddress bans addr. The fingerprint currently associated with addr
// (if any) is banned too, and with it every other address that
// fingerprint has ever been seen from. Re-banning an already banned
// address is a business error with no side effects.
func (r *Registry) BanAddress(addr, actor string) (BanResult, error) {
	if r.IsAddressBanned(addr) {
		return BanResult{}, ErrAddressAlreadyBanned
	}

	res := BanResult{Addresses: []string{addr}}
	r.bannedAddrs[addr] = struct{}{}

	if fp := r.lastFP[addr]; fp != "" {
		if !r.IsFingerprintBanned(fp) {
			r.bannedFPs[fp] = struct{}{}
			res.Fingerprints = append(res.Fingerprints, fp)
		}
		for other := range r.fpToAddrs[fp] {
			if !r.IsAddressBanned(other) {
				r.bannedAddrs[other] = struct{}{}
				res.Addresses = append(res.Addresses, other)
			}
		}
	}

	slog.Info("address banned", "address", addr, "by", actor,
		"addresses_banned", len(res.Addresses), "fingerprints_banned", len(res.Fingerprints))
	return res, nil
}

// UnbanAddress lifts the ban on addr. If the fingerprint associated with
// addr is banned and no other address associated with that fingerprint
// remains banned, the fingerprint ban is lifted too.
func (r *Registry) UnbanAddress(addr, actor string) (bool, error) {
	if !r.IsAddressBanned(addr) {
		return false, ErrAddressNotBanned
	}
	delete(r.bannedAddrs, addr)

	if fp := r.lastFP[addr]; fp != "" && r.IsFingerprintBanned(fp) {
		anyBanned := false
		for other := range r.fpToAddrs[fp] {
			if r.IsAddressBanned(other) {
				anyBanned = true
				break
			}
		}
		if !anyBanned {
			delete(r.bannedFPs, fp)
			slog.Info("fingerprint ban lifted with last address", "fingerprint", fp, "by", actor)
		}
	}

	slog.Info("address unbanned", "address", addr, "by", actor)
	return true, nil
}

// BanFingerprint bans fp and every address ever associated with it.
func (r *Registry) BanFingerprint(fp, actor string) (BanResult, error) {
	if r.IsFingerprintBanned(fp) {
		return BanResult{}, ErrFingerprintAlreadyBanned
	}

	res := BanResult{Fingerprints: []string{fp}}
	r.bannedFPs[fp] = struct{}{}
	for addr := range r.fpToAddrs[fp] {
		if !r.IsAddressBanned(addr) {
			r.bannedAddrs[addr] = struct{}{}
			res.Addresses = append(res.Addresses, addr)
		}
	}

	slog.Info("fingerprint banned", "fingerprint", fp, "by", actor,
		"addresses_banned", len(res.Addresses))
	return res, nil
}

// UnbanFingerprint lifts the ban on fp. It does not cascade back to
// address unbans.
func (r *Registry) UnbanFingerprint(fp, actor string) (bool, error) {
	if !r.IsFingerprintBanned(fp) {
		return false, ErrFingerprintNotBanned
	}
	delete(r.bannedFPs, fp)
	slog.Info("fingerprint unbanned", "fingerprint", fp, "by", actor)
	return true, nil
}

// BannedAddressCount returns the size of the address ban set.
func (r *Registry) BannedAddressCount() int {
	return len(r.bannedAddrs)
}

// BannedFingerprintCount returns the size of the fingerprint ban set.
func (r *Registry) BannedFingerprintCount() int {
	return len(r.bannedFPs)
}

func (r *Registry) associate(addr, fp string) {
	fps, ok := r.addrToFPs[addr]
	if !ok {
		fps = make(map[string]struct{})
		r.addrToFPs[addr] = fps
	}
	fps[fp] = struct{}{}

	addrs, ok := r.fpToAddrs[fp]
	if !ok {
		addrs = make(map[string]struct{})
		r.fpToAddrs[fp] = addrs
	}
	addrs[addr] = struct{}{}
}
