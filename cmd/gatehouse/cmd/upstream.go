package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/jmcleod/gatehouse/api"
)

// AdminSubjectHeader carries the verified admin subject to the upstream
// CMS. Any client-supplied copy is dropped.
const AdminSubjectHeader = "X-Gatehouse-Admin"

// newUpstream returns the handler that receives every request the gateway
// lets through and does not serve itself. With no upstream configured
// such requests get a 404.
func newUpstream(rawURL string, logger *slog.Logger) (http.Handler, error) {
	if rawURL == "" {
		return http.NotFoundHandler(), nil
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del(AdminSubjectHeader)
			if claims := api.ClaimsFromContext(pr.In.Context()); claims != nil {
				pr.Out.Header.Set(AdminSubjectHeader, claims.Subject)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("upstream request failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}, nil
}
