package webhook

import (
	"github.com/felipe/zegate/internal/config"
	"github.com/felipe/zegate/internal/wa"
)

// Filter decide quais eventos e mensagens são elegíveis para entrega
type Filter struct {
	skipStatus   bool
	skipGroups   bool
	skipChannels bool
	// skipBlocked é reservado: a lista de bloqueio não é consultada aqui
	skipBlocked   bool
	allowedEvents map[string]struct{}
	deniedEvents  map[string]struct{}
}

// NewFilter cria o filtro a partir da configuração de webhook
func NewFilter(cfg config.WebhookConfig) *Filter {
	return &Filter{
		skipStatus:    cfg.SkipStatus,
		skipGroups:    cfg.SkipGroups,
		skipChannels:  cfg.SkipChannels,
		skipBlocked:   cfg.SkipBlocked,
		allowedEvents: toSet(cfg.AllowedEvents),
		deniedEvents:  toSet(cfg.DeniedEvents),
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// ShouldSendEvent aplica primeiro a lista negada, depois a permitida.
// Lista permitida vazia admite todos os eventos.
func (f *Filter) ShouldSendEvent(name string) bool {
	if _, denied := f.deniedEvents[name]; denied {
		return false
	}
	if len(f.allowedEvents) > 0 {
		_, allowed := f.allowedEvents[name]
		return allowed
	}
	return true
}

// ShouldSendMessage aplica os filtros por classe de endereço
func (f *Filter) ShouldSendMessage(msg wa.Message) bool {
	address := msg.Key.RemoteJID
	if address == "" {
		return false
	}
	if f.skipStatus && wa.IsStatusBroadcast(address) {
		return false
	}
	if f.skipGroups && wa.IsGroup(address) {
		return false
	}
	if f.skipChannels && wa.IsNewsletter(address) {
		return false
	}
	return true
}

// FilterUpsert reduz o lote às mensagens elegíveis. Retorna false
// quando o lote inteiro foi filtrado e nada deve ser entregue.
func (f *Filter) FilterUpsert(event wa.MessagesUpsert) (wa.MessagesUpsert, bool) {
	kept := make([]wa.Message, 0, len(event.Messages))
	for _, msg := range event.Messages {
		if f.ShouldSendMessage(msg) {
			kept = append(kept, msg)
		}
	}
	if len(kept) == 0 {
		return wa.MessagesUpsert{}, false
	}
	return wa.MessagesUpsert{Messages: kept, Type: event.Type}, true
}
