package approval

import (
	"fmt"
	"time"

	"github.com/andycufari/portero/internal/channels"
	"github.com/andycufari/portero/internal/store"
)

// AdminStore is the subset of *store.AdminStore pairing depends on.
type AdminStore interface {
	Get() (*store.AdminPairing, error)
	Pair(pairing store.AdminPairing) error
}

// principalKey builds the opaque admin-chat-id stored in AdminPairing:
// composite of channel type and platform-specific channel id, so the same
// numeric/string id on two different transports never collides.
func principalKey(channel channels.ChannelType, channelID string) string {
	return fmt.Sprintf("%s:%s", channel, channelID)
}

// pairing tracks the single admin principal (spec §3 "Admin pairing").
// Before a principal has paired, exactly two commands are accepted from
// any sender: "whoami" (identity disclosure) and "pair <secret>".
type pairing struct {
	admin  AdminStore
	secret string
	now    func() time.Time
}

func newPairing(admin AdminStore, secret string) *pairing {
	return &pairing{admin: admin, secret: secret, now: time.Now}
}

// isPaired reports whether an admin principal has already been bound.
func (p *pairing) isPaired() (bool, string, error) {
	rec, err := p.admin.Get()
	if err != nil {
		return false, "", err
	}
	return rec.AdminChatID != "", rec.AdminChatID, nil
}

// isAdmin reports whether msg was sent by the paired principal.
func (p *pairing) isAdmin(msg *channels.Message) (bool, error) {
	rec, err := p.admin.Get()
	if err != nil {
		return false, err
	}
	if rec.AdminChatID == "" {
		return false, nil
	}
	return rec.AdminChatID == principalKey(msg.Channel, msg.ChannelID), nil
}

// pair binds msg's sender as the admin principal iff secret matches the
// configured pairing secret and nobody has paired yet. It is idempotent
// against re-pairing attempts once bound: subsequent pair attempts from a
// different principal fail.
func (p *pairing) pair(msg *channels.Message, secret string) (bool, error) {
	paired, _, err := p.isPaired()
	if err != nil {
		return false, err
	}
	if paired {
		return false, nil
	}
	if p.secret == "" || secret != p.secret {
		return false, nil
	}
	if err := p.admin.Pair(store.AdminPairing{
		AdminChatID: principalKey(msg.Channel, msg.ChannelID),
		PairedAt:    p.now(),
	}); err != nil {
		return false, err
	}
	return true, nil
}
