package server

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"formpilot/internal/util"
	"formpilot/pkg/domain"
	"formpilot/services/api/internal/app"
)

type publishRequest struct {
	FormDefinition domain.FormDefinition `json:"formDefinition"`
	UserID         string                `json:"userId"`
}

func (s *Server) decodePublish(w http.ResponseWriter, r *http.Request) (app.PublishInput, bool) {
	var req publishRequest
	if !decodeJSON(w, r, &req) {
		return app.PublishInput{}, false
	}
	userID, err := s.resolveUser(r, req.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return app.PublishInput{}, false
	}
	return app.PublishInput{UserID: userID, Definition: req.FormDefinition}, true
}

func (s *Server) handlePublishGoogle(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodePublish(w, r)
	if !ok {
		return
	}
	res, err := s.app.PublishGoogleForm(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"formId":       res.Published.ExternalID,
		"responderUri": res.Published.URL,
		"editUri":      res.Published.EditURL,
	})
}

func (s *Server) handlePublishTypeform(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodePublish(w, r)
	if !ok {
		return
	}
	res, err := s.app.PublishTypeform(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"formId": res.Published.ExternalID,
		"url":    res.Published.URL,
	})
}

func (s *Server) handlePublishTally(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodePublish(w, r)
	if !ok {
		return
	}
	res, err := s.app.PublishTally(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"formId":  res.Published.ExternalID,
		"url":     res.Published.URL,
		"editUrl": res.Published.EditURL,
	})
}

func providerParam(w http.ResponseWriter, r *http.Request) (domain.Provider, bool) {
	p, ok := domain.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
	}
	return p, ok
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	var req userRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := s.resolveUser(r, req.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	authURL, err := s.app.AuthorizeURL(r.Context(), provider, userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authUrl": authURL})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	userID, ok := s.queryUser(w, r)
	if !ok {
		return
	}
	connected, err := s.app.IsConnected(r.Context(), userID, provider)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isConnected": connected})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	var req userRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := s.resolveUser(r, req.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := s.app.Disconnect(r.Context(), userID, provider); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.queryUser(w, r)
	if !ok {
		return
	}
	conns, err := s.app.Connections(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

type tallyConnectRequest struct {
	UserID string `json:"userId"`
	APIKey string `json:"apiKey"`
}

func (s *Server) handleConnectTally(w http.ResponseWriter, r *http.Request) {
	var req tallyConnectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := s.resolveUser(r, req.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := s.app.ConnectTally(r.Context(), userID, req.APIKey); err != nil {
		s.audit(r, "tally_connect", "failure", "userId", userID)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "tally_connect", "success", "userId", userID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<p>{{.Text}}</p>
<script nonce="{{.Nonce}}">
(function () {
  var message = {{.Message}};
  if (window.opener) {
    window.opener.postMessage(message, {{.Origin}});
  }
  window.close();
})();
</script>
</body>
</html>
`))

type callbackMessage struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	Error    string `json:"error,omitempty"`
}

// handleCallback finishes an OAuth flow in the popup and reports the outcome
// to the opener window.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	userID, err := s.app.CompleteAuthorization(r.Context(), provider, q.Get("code"), q.Get("state"), q.Get("error"))
	msg := callbackMessage{Type: string(provider) + "-auth-success", Provider: string(provider)}
	data := map[string]any{"Title": "Connected", "Text": "Connected. You can close this window."}
	status := http.StatusOK
	if err != nil {
		s.audit(r, "oauth_callback", "failure", "provider", provider, "userId", userID, "err", err)
		status = statusFor(err)
		msg.Type = string(provider) + "-auth-error"
		msg.Error = err.Error()
		data["Title"] = "Connection failed"
		data["Text"] = "Connection failed. You can close this window and try again."
	} else {
		s.audit(r, "oauth_callback", "success", "provider", provider, "userId", userID)
	}
	nonce := util.NewToken(16)
	data["Nonce"] = nonce
	data["Message"] = msg
	data["Origin"] = s.callbackOrigin

	var buf bytes.Buffer
	if err := callbackPage.Execute(&buf, data); err != nil {
		writeAppError(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Security-Policy", "default-src 'none'; script-src 'nonce-"+nonce+"'; base-uri 'none'; frame-ancestors 'none'")
	// The popup must keep its opener to post the result back.
	h.Set("Cross-Origin-Opener-Policy", "unsafe-none")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
