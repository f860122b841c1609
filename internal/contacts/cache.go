package contacts

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/meshctl/internal/protocol/frame"
)

// Cache is the authoritative contact/channel state. Mutation is
// synchronous: a route resolved after an update always sees the update.
// Inbound frames and explicit user actions are the only writers.
type Cache struct {
	mu       sync.RWMutex
	contacts map[frame.PublicKey]*Contact
	byPrefix map[frame.Prefix]frame.PublicKey
	channels map[uint8]*Channel
	log      zerolog.Logger
}

func NewCache(log zerolog.Logger) *Cache {
	return &Cache{
		contacts: make(map[frame.PublicKey]*Contact),
		byPrefix: make(map[frame.Prefix]frame.PublicKey),
		channels: make(map[uint8]*Channel),
		log:      log.With().Str("component", "contacts").Logger(),
	}
}

// ApplyAdvert merges one advertisement. Unknown identities are created;
// known ones are updated field-by-field, last write wins. Client-set
// routing overrides are never touched.
func (c *Cache) ApplyAdvert(adv frame.Advert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.upsertLocked(adv.PublicKey)
	entry.Kind = Kind(adv.Kind)
	if adv.Name != "" {
		entry.Name = adv.Name
	}
	if adv.Timestamp > entry.LastSeen {
		entry.LastSeen = adv.Timestamp
	}
	if adv.HasLocation {
		entry.HasLocation = true
		entry.Lat = adv.Lat
		entry.Lon = adv.Lon
	}
	c.log.Debug().Str("name", entry.Name).Str("kind", entry.Kind.String()).Msg("advert applied")
}

// ApplyContactInfo merges one device contact record.
func (c *Cache) ApplyContactInfo(ci frame.ContactInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.upsertLocked(ci.PublicKey)
	entry.Kind = Kind(ci.Kind)
	if ci.Name != "" {
		entry.Name = ci.Name
	}
	if ci.LastSeen > entry.LastSeen {
		entry.LastSeen = ci.LastSeen
	}
	if ci.OutPath != nil {
		entry.HasOutPath = true
		entry.OutPath = append([]byte(nil), ci.OutPath...)
	}
}

// ApplyPathUpdate records a device-observed route for the contact whose
// identity starts with the update's prefix. Unknown prefixes are dropped:
// a bare prefix cannot create a full identity entry.
func (c *Cache) ApplyPathUpdate(pu frame.PathUpdated) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.byPrefix[pu.Prefix]
	if !ok {
		c.log.Debug().Str("prefix", fmt.Sprintf("%x", pu.Prefix)).Msg("path update for unknown contact dropped")
		return
	}
	entry := c.contacts[key]
	entry.HasOutPath = true
	entry.OutPath = append([]byte(nil), pu.Path...)
}

// ApplyChannelInfo merges one device channel record. Muted is client-side
// state and survives updates.
func (c *Cache) ApplyChannelInfo(ci frame.ChannelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[ci.Index]
	if !ok {
		ch = &Channel{Index: ci.Index}
		c.channels[ci.Index] = ch
	}
	ch.Name = ci.Name
	ch.Compressed = ci.Flags&frame.ChannelFlagCompressed != 0
}

// EnsureContact creates a bare entry for key if none exists, so settings
// replayed at startup have something to attach to before the first
// advert arrives.
func (c *Cache) EnsureContact(key frame.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertLocked(key)
}

// ResolveRoute derives the routing decision for one send to key. Auto
// resolves to the last advertised path when one is known, else flood;
// Fixed and Flood overrides resolve directly. Unknown contacts flood.
func (c *Cache) ResolveRoute(key frame.PublicKey) PathSelection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.contacts[key]
	if !ok {
		return floodSelection()
	}
	switch entry.Mode {
	case ModeFlood:
		return floodSelection()
	case ModeFixed:
		return PathSelection{
			HopCount: len(entry.FixedPath),
			Path:     append([]byte(nil), entry.FixedPath...),
		}
	default:
		if !entry.HasOutPath {
			return floodSelection()
		}
		return PathSelection{
			HopCount: len(entry.OutPath),
			Path:     append([]byte(nil), entry.OutPath...),
		}
	}
}

// SetPathOverride pins the routing mode for a contact. ModeFixed requires
// a path of at most frame.MaxPathLen hop bytes; other modes ignore path.
func (c *Cache) SetPathOverride(key frame.PublicKey, mode PathMode, path []byte) error {
	if mode == ModeFixed && len(path) > frame.MaxPathLen {
		return fmt.Errorf("%w: %d hops", ErrPathTooLong, len(path))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.contacts[key]
	if !ok {
		return fmt.Errorf("%w: %x", ErrUnknownContact, key[:frame.PrefixLen])
	}
	entry.Mode = mode
	entry.FixedPath = nil
	if mode == ModeFixed {
		entry.FixedPath = append([]byte(nil), path...)
	}
	return nil
}

// ClearPathOverride returns a contact to automatic routing.
func (c *Cache) ClearPathOverride(key frame.PublicKey) error {
	return c.SetPathOverride(key, ModeAuto, nil)
}

// RemoveContact forgets a contact entirely.
func (c *Cache) RemoveContact(key frame.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.contacts[key]; ok {
		delete(c.byPrefix, entry.PublicKey.Prefix())
		delete(c.contacts, key)
	}
}

// MarkRead clears a contact's unread counter.
func (c *Cache) MarkRead(key frame.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.contacts[key]; ok {
		entry.Unread = 0
	}
}

// IncrementUnread bumps a contact's unread counter.
func (c *Cache) IncrementUnread(key frame.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.contacts[key]; ok {
		entry.Unread++
	}
}

// Contact returns a copy of one entry.
func (c *Cache) Contact(key frame.PublicKey) (Contact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.contacts[key]
	if !ok {
		return Contact{}, false
	}
	return copyContact(entry), true
}

// ContactByPrefix returns a copy of the entry whose identity starts with
// prefix.
func (c *Cache) ContactByPrefix(prefix frame.Prefix) (Contact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.byPrefix[prefix]
	if !ok {
		return Contact{}, false
	}
	return copyContact(c.contacts[key]), true
}

// Contacts returns copies of all entries sorted by name then identity.
func (c *Cache) Contacts() []Contact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Contact, 0, len(c.contacts))
	for _, entry := range c.contacts {
		out = append(out, copyContact(entry))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return string(out[i].PublicKey[:]) < string(out[j].PublicKey[:])
	})
	return out
}

// Channel returns a copy of one channel slot.
func (c *Cache) Channel(index uint8) (Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[index]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// Channels returns copies of all channel slots ordered by index.
func (c *Cache) Channels() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// SetChannelMuted flips the client-side mute flag for a channel.
func (c *Cache) SetChannelMuted(index uint8, muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[index]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, index)
	}
	ch.Muted = muted
	return nil
}

func (c *Cache) upsertLocked(key frame.PublicKey) *Contact {
	entry, ok := c.contacts[key]
	if !ok {
		entry = &Contact{PublicKey: key, Mode: ModeAuto}
		c.contacts[key] = entry
		c.byPrefix[key.Prefix()] = key
	}
	return entry
}

func copyContact(entry *Contact) Contact {
	out := *entry
	out.OutPath = append([]byte(nil), entry.OutPath...)
	out.FixedPath = append([]byte(nil), entry.FixedPath...)
	return out
}
