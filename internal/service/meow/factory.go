package meow

import (
	"context"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	"github.com/felipe/zegate/internal/logger"
	"github.com/felipe/zegate/internal/wa"
)

// Factory constrói transportes whatsmeow amarrados ao contêiner de
// dispositivos compartilhado
type Factory struct {
	container *sqlstore.Container
	logger    *logger.ComponentLogger
}

func NewFactory(container *sqlstore.Container) *Factory {
	return &Factory{
		container: container,
		logger:    logger.ForComponent("meow"),
	}
}

// New monta um transporte para a sessão, reaproveitando o dispositivo
// pareado quando as credenciais apontam para um
func (f *Factory) New(ctx context.Context, sessionID string, state *wa.AuthState) (wa.Transport, error) {
	device := f.pickDevice(ctx, sessionID, state)
	client := whatsmeow.NewClient(device, logger.GetWhatsAppLogger("meow/"+sessionID))
	// A reconexão pertence ao supervisor, nunca à biblioteca
	client.EnableAutoReconnect = false
	return newTransport(sessionID, client), nil
}

func (f *Factory) pickDevice(ctx context.Context, sessionID string, state *wa.AuthState) *store.Device {
	log := f.logger.WithSession(sessionID)

	if state == nil || !state.Creds.Valid() {
		return f.container.NewDevice()
	}

	jid, err := types.ParseJID(state.Creds.Me.ID)
	if err != nil {
		log.Warn().Err(err).Str("jid", state.Creds.Me.ID).Msg("Stored identity is not a valid JID, creating fresh device")
		return f.container.NewDevice()
	}

	device, err := f.container.GetDevice(ctx, jid)
	if err != nil {
		log.Warn().Err(err).Str("jid", jid.String()).Msg("Device lookup failed, creating fresh device")
		return f.container.NewDevice()
	}
	if device == nil {
		log.Info().Str("jid", jid.String()).Msg("No stored device for identity, creating fresh device")
		return f.container.NewDevice()
	}
	return device
}
