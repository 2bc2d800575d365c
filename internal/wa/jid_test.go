package wa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToAddress(t *testing.T) {
	// Número cru vira endereço de usuário
	assert.Equal(t, "5511999999999@s.whatsapp.net", ToAddress("5511999999999"))

	// Formatação de telefone é descartada
	assert.Equal(t, "5511999999999@s.whatsapp.net", ToAddress("+55 (11) 99999-9999"))
}

func TestToAddress_Idempotent(t *testing.T) {
	addresses := []string{
		"5511999999999@s.whatsapp.net",
		"123456789-987654@g.us",
		"120363123456789012@newsletter",
		"status@broadcast",
	}
	for _, address := range addresses {
		assert.Equal(t, address, ToAddress(address))
		assert.Equal(t, ToAddress(address), ToAddress(ToAddress(address)))
	}
}

func TestAddressClassifiers(t *testing.T) {
	assert.True(t, IsGroup("123456789-987654@g.us"))
	assert.False(t, IsGroup("5511999999999@s.whatsapp.net"))

	assert.True(t, IsNewsletter("120363123456789012@newsletter"))
	assert.False(t, IsNewsletter("123456789-987654@g.us"))

	assert.True(t, IsStatusBroadcast("status@broadcast"))
	assert.True(t, IsStatusBroadcast("99999@broadcast"))
	assert.False(t, IsStatusBroadcast("5511999999999@s.whatsapp.net"))

	assert.True(t, IsUser("5511999999999@s.whatsapp.net"))
	assert.False(t, IsUser("123456789-987654@g.us"))
}

func TestDisconnectCode_Action(t *testing.T) {
	assert.Equal(t, ActionStop, CodeLoggedOut.Action())
	assert.Equal(t, ActionRestartNow, CodeRestartRequired.Action())
	assert.Equal(t, ActionReconnect, CodeConnectionLost.Action())
	assert.Equal(t, ActionReconnect, CodeConnectionClosed.Action())
	assert.Equal(t, ActionReconnect, CodeConnectionReplaced.Action())
	assert.Equal(t, ActionReconnect, DisconnectCode(0).Action())
}
