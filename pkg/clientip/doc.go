// Package clientip resolves the originating client address of an HTTP
// request.
//
// Proxy headers are only honoured when the deployment says so: a Resolver
// is built with the list of headers the fronting proxy sets, checked in
// order, and falls back to the TCP peer address. A header holding a
// comma-separated list (X-Forwarded-For) yields its first valid entry.
//
//	ips := clientip.New("CF-Connecting-IP", "X-Forwarded-For")
//	key := "ip:" + ips.IP(r)
//
// Trusting a header the proxy does not overwrite lets any caller choose
// their own address, which defeats per-IP rate limiting.
package clientip
