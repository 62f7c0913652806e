package strand

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/strandauth/strand/domain"
	"github.com/strandauth/strand/instrumentation"
	"github.com/strandauth/strand/security"
	"github.com/strandauth/strand/server"
)

const tokenTypeBearer = "Bearer"

// maxRequestBody bounds JSON and form bodies accepted by the handler.
const maxRequestBody = 1 << 20 // 1 MiB

// Handler is a thin HTTP adapter over the protocol engine. It parses wire
// parameters, delegates to the Server, and translates *domain.Error values
// into RFC 6749 §5.2 bodies. No protocol decision lives here.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler over srv.
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server: srv,
		logger: logger,
	}
}

// SetInstrumentation enables tracing of HTTP operations.
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		h.tracer = inst.Tracer()
	}
}

// Routes returns the full endpoint mux wrapped in the request-id middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.ServeRegister)
	mux.HandleFunc("GET /authorize", h.ServeAuthorization)
	mux.HandleFunc("POST /authorize/prompt", h.ServeAuthorizationPrompt)
	mux.HandleFunc("POST /token", h.ServeToken)
	return security.RequestIDMiddleware(mux)
}

// registrationRequest is the JSON body accepted by POST /register.
type registrationRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ServeRegister handles user registration.
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "idp.http.register")
	defer endSpan(span)

	var req registrationRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidRequest("request body must be valid JSON"))
		return
	}

	user, err := h.server.Register(ctx, req.Email, req.Password)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	h.logger.Info("registration handled",
		"user_id", user.ID,
		"ip", h.clientIP(r),
		"request_id", security.GetRequestID(ctx))

	h.writeJSON(w, http.StatusCreated, RegistrationResponse{
		UserID: user.ID.String(),
		Email:  user.Email.String(),
	})
}

// ServeAuthorization handles GET /authorize: it opens an authorization
// request and returns its id so the resource owner can be prompted.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "idp.http.authorize")
	defer endSpan(span)

	q := r.URL.Query()
	clientID := q.Get("client_id")
	if clientID == "" {
		h.writeError(w, domain.ErrInvalidRequest("client_id is required"))
		return
	}

	params := domain.AuthorizationParams{
		ResponseType:        q.Get("response_type"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	req, err := h.server.StartAuthorization(ctx, clientID, params)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrScope, req.Scope.String()))

	h.writeJSON(w, http.StatusOK, AuthorizationResponse{
		RequestID: req.ID.String(),
		ClientID:  req.ClientID,
		Scope:     req.Scope.String(),
		State:     req.State,
	})
}

// ServeAuthorizationPrompt handles the resource owner's credential post. On
// success it redirects to the client's registered URI with code and state.
func (h *Handler) ServeAuthorizationPrompt(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "idp.http.authorize_prompt")
	defer endSpan(span)

	if err := h.parseForm(w, r); err != nil {
		h.writeError(w, err)
		return
	}

	requestID, err := domain.ParseID(r.PostFormValue("request_id"))
	if err != nil {
		h.writeError(w, domain.ErrInvalidRequest("request_id must be a valid id"))
		return
	}

	// The redirect target comes from the stored request, never from the
	// form: the prompt caller cannot steer where the code lands.
	req, err := h.server.GetAuthorizationRequest(ctx, requestID)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	code, state, err := h.server.AuthorizationPrompt(ctx, requestID,
		r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		h.logger.Error("stored redirect URI does not parse", "request_id", requestID, "error", err)
		h.writeError(w, domain.ErrServerError("authorization is temporarily unavailable"))
		return
	}
	params := redirect.Query()
	params.Set("code", code)
	params.Set("state", state)
	redirect.RawQuery = params.Encode()

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// ServeToken handles POST /token for both supported grant types.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		h.writeError(w, err)
		return
	}

	switch grantType := r.PostFormValue("grant_type"); grantType {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		h.handleRefreshTokenGrant(w, r)
	case "":
		h.writeError(w, domain.ErrInvalidRequest("grant_type is required"))
	default:
		h.writeError(w, domain.ErrUnsupportedGrantType("grant type "+grantType+" is not supported"))
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "idp.http.token_exchange")
	defer endSpan(span)

	code := r.PostFormValue("code")
	if code == "" {
		h.writeError(w, domain.ErrInvalidRequest("code is required"))
		return
	}
	clientID := r.PostFormValue("client_id")
	if clientID == "" {
		h.writeError(w, domain.ErrInvalidRequest("client_id is required"))
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrGrantType, "authorization_code"))

	tokens, err := h.server.ExchangeAuthorizationCode(ctx, clientID, code,
		r.PostFormValue("code_verifier"), r.PostFormValue("redirect_uri"))
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	h.logger.Info("token exchange handled",
		"client_id", clientID,
		"ip", h.clientIP(r),
		"request_id", security.GetRequestID(ctx))

	h.writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "idp.http.token_refresh")
	defer endSpan(span)

	refreshToken := r.PostFormValue("refresh_token")
	if refreshToken == "" {
		h.writeError(w, domain.ErrInvalidRequest("refresh_token is required"))
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, "refresh_token"))

	tokens, err := h.server.Refresh(ctx, refreshToken)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, tokens)
}

// tokenContextKey carries the verified token payload through a request.
type tokenContextKey struct{}

// TokenFromContext returns the payload ValidateToken attached, if any.
func TokenFromContext(ctx context.Context) (*domain.TokenPayload, bool) {
	payload, ok := ctx.Value(tokenContextKey{}).(*domain.TokenPayload)
	return payload, ok
}

// ValidateToken is middleware that authenticates the bearer token and makes
// the verified payload available via TokenFromContext.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer, err := extractBearerToken(r)
		if err != nil {
			h.writeError(w, err)
			return
		}

		payload, err := h.server.Authenticate(r.Context(), bearer)
		if err != nil {
			h.writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), tokenContextKey{}, payload)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", domain.ErrInvalidToken("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], tokenTypeBearer) {
		return "", domain.ErrInvalidToken("Authorization header must use the Bearer scheme")
	}
	return parts[1], nil
}

// parseForm parses a size-bounded form body.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := r.ParseForm(); err != nil {
		return domain.ErrInvalidRequest("failed to parse form body")
	}
	return nil
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

func (h *Handler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return r.Context(), nil
	}
	return h.tracer.Start(r.Context(), name)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

// errorBody is the RFC 6749 §5.2 error shape.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	State            string `json:"state,omitempty"`
}

// writeError translates any error into a wire body. Unexpected errors are
// collapsed into server_error so internals never leak to clients.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		h.logger.Error("unhandled error reached the transport", "error", err)
		derr = domain.ErrServerError("internal server error")
	}

	status := derr.Status
	if status == 0 {
		status = http.StatusBadRequest
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:            derr.Code,
		ErrorDescription: derr.Description,
		ErrorURI:         derr.ErrorURI,
		State:            derr.State,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
