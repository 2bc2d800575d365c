package session

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/felipe/zegate/internal/wa"
)

const (
	messageCacheTTL = 6 * time.Hour
	contactCacheTTL = 6 * time.Hour
	groupCacheTTL   = 5 * time.Minute
)

// Caches guarda o estado efêmero da sessão: mensagens recentes por id,
// nomes de contato por endereço e metadados de grupo por endereço
type Caches struct {
	messages *gocache.Cache
	contacts *gocache.Cache
	groups   *gocache.Cache
}

// NewCaches cria os três caches com as expirações da sessão
func NewCaches() *Caches {
	return &Caches{
		messages: gocache.New(messageCacheTTL, 10*time.Minute),
		contacts: gocache.New(contactCacheTTL, 10*time.Minute),
		groups:   gocache.New(groupCacheTTL, time.Minute),
	}
}

// StoreMessage guarda uma mensagem recente pelo id
func (c *Caches) StoreMessage(msg wa.Message) {
	if msg.Key.ID == "" {
		return
	}
	c.messages.Set(msg.Key.ID, msg, gocache.DefaultExpiration)
}

// Message recupera uma mensagem recente pelo id
func (c *Caches) Message(id string) (wa.Message, bool) {
	value, ok := c.messages.Get(id)
	if !ok {
		return wa.Message{}, false
	}
	return value.(wa.Message), true
}

// RememberContact guarda o nome de exibição de um contato
func (c *Caches) RememberContact(address, name string) {
	if address == "" || name == "" {
		return
	}
	c.contacts.Set(address, name, gocache.DefaultExpiration)
}

// ContactName recupera o nome de exibição de um contato
func (c *Caches) ContactName(address string) (string, bool) {
	value, ok := c.contacts.Get(address)
	if !ok {
		return "", false
	}
	return value.(string), true
}

// StoreGroup guarda os metadados de um grupo
func (c *Caches) StoreGroup(group wa.Group) {
	if group.JID == "" {
		return
	}
	c.groups.Set(group.JID, group, gocache.DefaultExpiration)
}

// Group recupera os metadados de um grupo
func (c *Caches) Group(address string) (wa.Group, bool) {
	value, ok := c.groups.Get(address)
	if !ok {
		return wa.Group{}, false
	}
	return value.(wa.Group), true
}
