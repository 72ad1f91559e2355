package session

import "strings"

// PrimaryLanguage extracts the primary tag of the first preference in an
// Accept-Language header, e.g. "fr" from "fr-FR,fr;q=0.9,en;q=0.8".
func PrimaryLanguage(header string) string {
	first := header
	if i := strings.IndexByte(first, ','); i >= 0 {
		first = first[:i]
	}
	if i := strings.IndexByte(first, ';'); i >= 0 {
		first = first[:i]
	}
	if i := strings.IndexByte(first, '-'); i >= 0 {
		first = first[:i]
	}
	first = strings.ToLower(strings.TrimSpace(first))
	if first == "" {
		return "en"
	}
	return first
}

// languageName spells out a language tag for use inside prompts.
func languageName(lang string) string {
	switch lang {
	case "fr":
		return "French"
	case "es":
		return "Spanish"
	case "de":
		return "German"
	case "it":
		return "Italian"
	default:
		return "English"
	}
}

func greeting(lang string) string {
	switch lang {
	case "fr":
		return "👋 Bonjour ! Je prépare votre revue de presse personnalisée. Je vous enverrai une notification quand elle sera prête..."
	case "es":
		return "👋 ¡Hola! Estoy preparando su resumen de prensa personalizado. Le enviaré una notificación cuando esté listo..."
	case "de":
		return "👋 Hallo! Ich bereite Ihren persönlichen Pressespiegel vor. Ich sende Ihnen eine Benachrichtigung, wenn er fertig ist..."
	case "it":
		return "👋 Ciao! Sto preparando la tua rassegna stampa personalizzata. Ti invierò una notifica quando sarà pronta..."
	default:
		return "👋 Hello! I'm preparing your personalized press review. I'll send you a notification when it's ready..."
	}
}

func closing(lang string) string {
	switch lang {
	case "fr":
		return "Voilà pour l'essentiel de l'actualité. Souhaitez-vous approfondir un sujet ?"
	case "es":
		return "Eso es todo por ahora. ¿Desea profundizar en algún tema?"
	case "de":
		return "Das war das Wichtigste. Möchten Sie ein Thema vertiefen?"
	case "it":
		return "Questo è tutto per ora. Vuoi approfondire un argomento?"
	default:
		return "That's the main news. Would you like to explore any topic further?"
	}
}

func notificationBody(lang string) string {
	switch lang {
	case "fr":
		return "Votre revue de presse est prête !"
	case "es":
		return "¡Su resumen de prensa está listo!"
	case "de":
		return "Ihr Pressespiegel ist fertig!"
	case "it":
		return "La tua rassegna stampa è pronta!"
	default:
		return "Your press review is ready!"
	}
}

const (
	emptyDigestMsg  = "I couldn't find any new relevant articles for you right now. Please check back later!"
	digestFailedMsg = "I'm having trouble accessing the latest news. Please try again later."
	chatFailedMsg   = "Sorry, I encountered an error processing your message."
)
