package wa

import "strings"

const (
	SuffixUser       = "@s.whatsapp.net"
	SuffixGroup      = "@g.us"
	SuffixNewsletter = "@newsletter"
	SuffixBroadcast  = "@broadcast"
	StatusBroadcast  = "status@broadcast"
)

// ToAddress normaliza um número ou endereço para o formato JID.
// Valores que já contêm "@" são retornados sem alteração.
func ToAddress(value string) string {
	if strings.Contains(value, "@") {
		return value
	}

	// Manter apenas dígitos do número de telefone
	var digits strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String() + SuffixUser
}

// IsGroup indica se o endereço pertence a um grupo
func IsGroup(address string) bool {
	return strings.HasSuffix(address, SuffixGroup)
}

// IsNewsletter indica se o endereço pertence a um canal
func IsNewsletter(address string) bool {
	return strings.HasSuffix(address, SuffixNewsletter)
}

// IsStatusBroadcast indica se o endereço é status ou broadcast
func IsStatusBroadcast(address string) bool {
	return strings.HasSuffix(address, SuffixBroadcast) || strings.Contains(address, StatusBroadcast)
}

// IsUser indica se o endereço é de um contato individual
func IsUser(address string) bool {
	return strings.HasSuffix(address, SuffixUser)
}
