package ingress

// GraphNodeProxy is the default QueryProxy: a reverse proxy to graph-node's
// query endpoint. graph-node itself is explicitly out of scope (spec.md §1);
// this is the thinnest possible adapter to it, built on net/http/httputil
// since none of the retrieved examples wire a third-party reverse-proxy
// library for this concern.

import (
	"net/http"
	"net/http/httputil"
	"net/url"
)

type GraphNodeProxy struct {
	proxy *httputil.ReverseProxy
}

func NewGraphNodeProxy(target string) (*GraphNodeProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	return &GraphNodeProxy{proxy: httputil.NewSingleHostReverseProxy(u)}, nil
}

func (p *GraphNodeProxy) Proxy(w http.ResponseWriter, r *http.Request, deploymentID string) error {
	p.proxy.ServeHTTP(w, r)
	return nil
}
