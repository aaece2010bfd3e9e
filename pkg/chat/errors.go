package chat

import (
	"net/http"
	"strings"
)

const (
	msgOffline     = "Sei offline. Controlla la connessione a internet e riprova."
	msgConnection  = "Problema di connessione. Verifica la tua rete e riprova."
	msgTimeout     = "La risposta sta impiegando troppo tempo. Riprova tra qualche istante."
	msgRateLimited = "Hai inviato troppe richieste. Attendi qualche minuto e riprova."
	msgUnavailable = "Il servizio non è al momento disponibile. Riprova più tardi."
	msgGeneric     = "Si è verificato un errore improvviso. Riprova."
)

// serverErrorBody mirrors the relay's JSON error shape.
type serverErrorBody struct {
	Error           string `json:"error"`
	Code            string `json:"code"`
	SuggestedAction string `json:"suggestedAction"`
}

// requestError is a failed attempt against the relay, carrying whatever the
// server said plus the transport-level cause.
type requestError struct {
	status int
	body   serverErrorBody
	cause  error
}

func (e *requestError) Error() string {
	if e.body.Code != "" {
		return e.body.Code
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return http.StatusText(e.status)
}

func (e *requestError) Unwrap() error { return e.cause }

// userMessage converts a failed attempt into the text shown to the user.
// The server's own message wins when present; transport failures fall back
// to a substring match on the technical error.
func userMessage(err *requestError) string {
	if err.body.Error != "" {
		msg := err.body.Error
		if err.body.SuggestedAction != "" {
			msg += " " + err.body.SuggestedAction + "."
		}
		return msg
	}

	switch err.status {
	case http.StatusTooManyRequests:
		return msgRateLimited
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return msgUnavailable
	case http.StatusGatewayTimeout:
		return msgTimeout
	}

	if err.cause != nil {
		detail := strings.ToLower(err.cause.Error())
		switch {
		case strings.Contains(detail, "deadline exceeded") || strings.Contains(detail, "timeout"):
			return msgTimeout
		case strings.Contains(detail, "connection refused"),
			strings.Contains(detail, "no such host"),
			strings.Contains(detail, "network is unreachable"):
			return msgConnection
		}
	}
	return msgGeneric
}
