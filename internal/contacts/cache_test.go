package contacts

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/meshctl/internal/protocol/frame"
	"github.com/danmuck/meshctl/internal/protocol/timing"
	"github.com/danmuck/meshctl/internal/testutil/testlog"
)

func keyWithByte(b byte) frame.PublicKey {
	var k frame.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

func TestApplyAdvertCreatesThenUpdates(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0x11)

	c.ApplyAdvert(frame.Advert{
		Kind:      frame.WireKindChat,
		PublicKey: key,
		Timestamp: 100,
		Name:      "alpha",
	})
	c.ApplyAdvert(frame.Advert{
		Kind:        frame.WireKindChat,
		PublicKey:   key,
		Timestamp:   200,
		HasLocation: true,
		Lat:         51.5,
		Lon:         -0.125,
		Name:        "alpha-2",
	})

	if got := len(c.Contacts()); got != 1 {
		t.Fatalf("expected a single entry, got %d", got)
	}
	entry, ok := c.Contact(key)
	if !ok {
		t.Fatalf("contact missing")
	}
	if entry.Name != "alpha-2" || entry.LastSeen != 200 {
		t.Fatalf("update not merged: %+v", entry)
	}
	if !entry.HasLocation || entry.Lat != 51.5 || entry.Lon != -0.125 {
		t.Fatalf("location not merged: %+v", entry)
	}
}

func TestApplyAdvertKeepsNameWhenOmitted(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0x11)
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 1, Name: "alpha"})
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 2})

	entry, _ := c.Contact(key)
	if entry.Name != "alpha" {
		t.Fatalf("empty advert name must not erase the known name: %q", entry.Name)
	}
}

func TestApplyAdvertIgnoresStaleTimestamp(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0x11)
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 500})
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 400})

	entry, _ := c.Contact(key)
	if entry.LastSeen != 500 {
		t.Fatalf("LastSeen regressed to %d", entry.LastSeen)
	}
}

func TestOverrideSurvivesInboundUpdates(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0x22)
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 1, Name: "beta"})
	if err := c.SetPathOverride(key, ModeFlood, nil); err != nil {
		t.Fatalf("set override: %v", err)
	}

	// Neither a fresh advert nor a device path update may revert the
	// client-set mode.
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 2, Name: "beta"})
	c.ApplyPathUpdate(frame.PathUpdated{Prefix: key.Prefix(), Path: []byte{0x01, 0x02}})
	c.ApplyContactInfo(frame.ContactInfo{PublicKey: key, OutPath: []byte{0x03}})

	entry, _ := c.Contact(key)
	if entry.Mode != ModeFlood {
		t.Fatalf("override reverted to %s", entry.Mode)
	}
	sel := c.ResolveRoute(key)
	if !sel.UseFlood || sel.HopCount != timing.Flood {
		t.Fatalf("flood override not honored: %+v", sel)
	}
}

func TestResolveRouteAuto(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0x33)
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 1})

	// No known path yet: auto falls back to flood.
	if sel := c.ResolveRoute(key); !sel.UseFlood {
		t.Fatalf("auto without a path should flood: %+v", sel)
	}

	c.ApplyPathUpdate(frame.PathUpdated{Prefix: key.Prefix(), Path: []byte{0x0A, 0x0B, 0x0C}})
	sel := c.ResolveRoute(key)
	if sel.UseFlood || sel.HopCount != 3 || !bytes.Equal(sel.Path, []byte{0x0A, 0x0B, 0x0C}) {
		t.Fatalf("auto should follow the advertised path: %+v", sel)
	}
}

func TestResolveRouteFixed(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0x44)
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 1})
	c.ApplyPathUpdate(frame.PathUpdated{Prefix: key.Prefix(), Path: []byte{0x0A, 0x0B}})

	if err := c.SetPathOverride(key, ModeFixed, []byte{0x01}); err != nil {
		t.Fatalf("set fixed: %v", err)
	}
	sel := c.ResolveRoute(key)
	if sel.UseFlood || sel.HopCount != 1 || !bytes.Equal(sel.Path, []byte{0x01}) {
		t.Fatalf("fixed path not used: %+v", sel)
	}

	if err := c.ClearPathOverride(key); err != nil {
		t.Fatalf("clear override: %v", err)
	}
	if sel := c.ResolveRoute(key); sel.HopCount != 2 {
		t.Fatalf("auto should return after clear: %+v", sel)
	}
}

func TestResolveRouteUnknownContactFloods(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	sel := c.ResolveRoute(keyWithByte(0x55))
	if !sel.UseFlood || sel.HopCount != timing.Flood {
		t.Fatalf("unknown contact must flood: %+v", sel)
	}
}

func TestResolveRouteReturnsFreshCopies(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0x66)
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 1})
	c.ApplyPathUpdate(frame.PathUpdated{Prefix: key.Prefix(), Path: []byte{0x0A, 0x0B}})

	sel := c.ResolveRoute(key)
	sel.Path[0] = 0xFF
	if again := c.ResolveRoute(key); again.Path[0] != 0x0A {
		t.Fatalf("caller mutation leaked into the cache: %+v", again)
	}
}

func TestSetPathOverrideValidation(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0x77)

	if err := c.SetPathOverride(key, ModeFlood, nil); !errors.Is(err, ErrUnknownContact) {
		t.Fatalf("expected ErrUnknownContact, got %v", err)
	}

	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 1})
	long := make([]byte, frame.MaxPathLen+1)
	if err := c.SetPathOverride(key, ModeFixed, long); !errors.Is(err, ErrPathTooLong) {
		t.Fatalf("expected ErrPathTooLong, got %v", err)
	}
}

func TestPathUpdateForUnknownPrefixDropped(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	c.ApplyPathUpdate(frame.PathUpdated{
		Prefix: frame.Prefix{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01},
		Path:   []byte{0x01},
	})
	if got := len(c.Contacts()); got != 0 {
		t.Fatalf("bare prefix must not create an entry, got %d", got)
	}
}

func TestEnsureContactSeedsEntry(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0x88)
	c.EnsureContact(key)
	if err := c.SetPathOverride(key, ModeFlood, nil); err != nil {
		t.Fatalf("override on seeded entry: %v", err)
	}
	// A later advert fills in the rest without disturbing the override.
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 9, Name: "late"})
	entry, _ := c.Contact(key)
	if entry.Name != "late" || entry.Mode != ModeFlood {
		t.Fatalf("seeded entry merged wrong: %+v", entry)
	}
}

func TestUnreadCounters(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0x99)
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 1})

	c.IncrementUnread(key)
	c.IncrementUnread(key)
	if entry, _ := c.Contact(key); entry.Unread != 2 {
		t.Fatalf("unread = %d, want 2", entry.Unread)
	}
	c.MarkRead(key)
	if entry, _ := c.Contact(key); entry.Unread != 0 {
		t.Fatalf("unread = %d after MarkRead", entry.Unread)
	}
}

func TestRemoveContact(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	key := keyWithByte(0xAA)
	c.ApplyAdvert(frame.Advert{PublicKey: key, Timestamp: 1})
	c.RemoveContact(key)

	if _, ok := c.Contact(key); ok {
		t.Fatalf("contact survived removal")
	}
	if _, ok := c.ContactByPrefix(key.Prefix()); ok {
		t.Fatalf("prefix index survived removal")
	}
}

func TestContactsSortedByNameThenKey(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	c.ApplyAdvert(frame.Advert{PublicKey: keyWithByte(0x02), Timestamp: 1, Name: "zeta"})
	c.ApplyAdvert(frame.Advert{PublicKey: keyWithByte(0x03), Timestamp: 1, Name: "alpha"})
	c.ApplyAdvert(frame.Advert{PublicKey: keyWithByte(0x01), Timestamp: 1, Name: "alpha"})

	all := c.Contacts()
	if len(all) != 3 {
		t.Fatalf("len = %d", len(all))
	}
	if all[0].PublicKey != keyWithByte(0x01) || all[1].PublicKey != keyWithByte(0x03) || all[2].Name != "zeta" {
		t.Fatalf("wrong order: %v %v %v", all[0].Name, all[1].Name, all[2].Name)
	}
}

func TestChannelMutedSurvivesInfoRefresh(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	c.ApplyChannelInfo(frame.ChannelInfo{Index: 2, Name: "ops"})
	if err := c.SetChannelMuted(2, true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	c.ApplyChannelInfo(frame.ChannelInfo{Index: 2, Name: "ops-renamed", Flags: frame.ChannelFlagCompressed})

	ch, ok := c.Channel(2)
	if !ok {
		t.Fatalf("channel missing")
	}
	if !ch.Muted || !ch.Compressed || ch.Name != "ops-renamed" {
		t.Fatalf("refresh merged wrong: %+v", ch)
	}
	if err := c.SetChannelMuted(9, true); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestChannelsOrderedByIndex(t *testing.T) {
	c := NewCache(testlog.Logger(t))
	c.ApplyChannelInfo(frame.ChannelInfo{Index: 3, Name: "c"})
	c.ApplyChannelInfo(frame.ChannelInfo{Index: 0, Name: "a"})
	c.ApplyChannelInfo(frame.ChannelInfo{Index: 1, Name: "b"})

	chs := c.Channels()
	if len(chs) != 3 || chs[0].Index != 0 || chs[1].Index != 1 || chs[2].Index != 3 {
		t.Fatalf("wrong order: %+v", chs)
	}
}
