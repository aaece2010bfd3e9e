package server

import (
	"errors"
	"net/http"

	"github.com/mujians/vantyx-assistant/pkg/providers"
)

// Validation and relay error codes. These identifiers are part of the wire
// contract and must stay stable.
const (
	CodeInvalidRequestFormat  = "INVALID_REQUEST_FORMAT"
	CodeEmptyMessage          = "EMPTY_MESSAGE"
	CodeInvalidMessageFormat  = "INVALID_MESSAGE_FORMAT"
	CodeInvalidMessageRole    = "INVALID_MESSAGE_ROLE"
	CodeInvalidMessageContent = "INVALID_MESSAGE_CONTENT"
	CodeMessageTooLong        = "MESSAGE_TOO_LONG"
	CodeInvalidModelParameter = "INVALID_MODEL_PARAMETER"
	CodeUnsupportedModel      = "UNSUPPORTED_MODEL"
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeRequestTimeout        = "REQUEST_TIMEOUT"
	CodeInternalError         = "INTERNAL_ERROR"
)

// apiError is the JSON error body, also used as the error-shaped payload
// folded into the SSE channel after streaming has begun.
type apiError struct {
	Error           string `json:"error"`
	Code            string `json:"code"`
	SuggestedAction string `json:"suggestedAction"`
}

// errorCatalog maps stable codes to their user-facing Italian message,
// suggested action and HTTP status.
var errorCatalog = map[string]struct {
	status int
	body   apiError
}{
	CodeInvalidRequestFormat: {http.StatusBadRequest, apiError{
		"Formato della richiesta non valido.", CodeInvalidRequestFormat, "Ricarica la pagina e riprova"}},
	CodeEmptyMessage: {http.StatusBadRequest, apiError{
		"Il messaggio non può essere vuoto.", CodeEmptyMessage, "Scrivi un messaggio e riprova"}},
	CodeInvalidMessageFormat: {http.StatusBadRequest, apiError{
		"Formato del messaggio non valido.", CodeInvalidMessageFormat, "Ricarica la pagina e riprova"}},
	CodeInvalidMessageRole: {http.StatusBadRequest, apiError{
		"Ruolo del messaggio non valido.", CodeInvalidMessageRole, "Ricarica la pagina e riprova"}},
	CodeInvalidMessageContent: {http.StatusBadRequest, apiError{
		"Il contenuto del messaggio deve essere un testo.", CodeInvalidMessageContent, "Scrivi un messaggio testuale e riprova"}},
	CodeMessageTooLong: {http.StatusBadRequest, apiError{
		"Il messaggio è troppo lungo. Massimo 10.000 caratteri.", CodeMessageTooLong, "Riduci la lunghezza del messaggio"}},
	CodeInvalidModelParameter: {http.StatusBadRequest, apiError{
		"Parametro del modello non valido.", CodeInvalidModelParameter, "Ricarica la pagina e riprova"}},
	CodeUnsupportedModel: {http.StatusBadRequest, apiError{
		"Modello AI non supportato.", CodeUnsupportedModel, "Ricarica la pagina e riprova"}},
	CodeRateLimitExceeded: {http.StatusTooManyRequests, apiError{
		"Hai raggiunto il limite di richieste orarie. Riprova tra qualche minuto.", CodeRateLimitExceeded, "Attendi prima di inviare nuove richieste"}},
	CodeRequestTimeout: {http.StatusGatewayTimeout, apiError{
		"La richiesta sta impiegando troppo tempo.", CodeRequestTimeout, "Riprova tra qualche minuto"}},
	CodeInternalError: {http.StatusInternalServerError, apiError{
		"Si è verificato un errore. Riprova più tardi.", CodeInternalError, "Contatta il supporto se il problema persiste"}},

	providers.CodeServiceTimeout: {http.StatusGatewayTimeout, apiError{
		"La richiesta al servizio AI sta impiegando troppo tempo.", providers.CodeServiceTimeout, "Riprova tra qualche minuto"}},
	providers.CodeServiceUnavailable: {http.StatusServiceUnavailable, apiError{
		"Impossibile connettersi al servizio AI.", providers.CodeServiceUnavailable, "Verifica la tua connessione e riprova"}},
	providers.CodeAuthError: {http.StatusInternalServerError, apiError{
		"Errore di autenticazione con il servizio AI.", providers.CodeAuthError, "Il problema è stato segnalato al nostro team"}},
	providers.CodeRateLimit: {http.StatusTooManyRequests, apiError{
		"Il servizio AI ha raggiunto il limite di richieste.", providers.CodeRateLimit, "Riprova tra qualche minuto"}},
	providers.CodeInvalidRequest: {http.StatusBadRequest, apiError{
		"Richiesta non valida al servizio AI.", providers.CodeInvalidRequest, "Modifica il messaggio e riprova"}},
	providers.CodeServiceError: {http.StatusBadGateway, apiError{
		"Il servizio AI ha riscontrato un problema.", providers.CodeServiceError, "Riprova tra qualche secondo"}},
}

// errorByCode returns the HTTP status and body for a stable code,
// falling back to INTERNAL_ERROR for anything unknown.
func errorByCode(code string) (int, apiError) {
	if e, ok := errorCatalog[code]; ok {
		return e.status, e.body
	}
	e := errorCatalog[CodeInternalError]
	return e.status, e.body
}

// errorForUpstream maps a provider failure to a wire error.
func errorForUpstream(err error) (int, apiError) {
	var ue *providers.UpstreamError
	if errors.As(err, &ue) {
		return errorByCode(ue.Code)
	}
	return errorByCode(CodeInternalError)
}
