package engine

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// certTimeLayout matches the dates curl prints in its certinfo.
const certTimeLayout = "Jan _2 15:04:05 2006 GMT"

// peerCertificates returns the chain presented on c, leaf first, or nil for
// plaintext connections.
func peerCertificates(c net.Conn) []*x509.Certificate {
	switch tc := c.(type) {
	case *tls.Conn:
		return tc.ConnectionState().PeerCertificates
	case *utls.UConn:
		return tc.ConnectionState().PeerCertificates
	}
	return nil
}

// certInfo flattens a leaf certificate into curl-style certinfo fields.
func certInfo(cert *x509.Certificate) map[string]string {
	if cert == nil {
		return map[string]string{}
	}
	info := map[string]string{
		"Subject":              cert.Subject.String(),
		"Issuer":               cert.Issuer.String(),
		"Version":              strconv.Itoa(cert.Version),
		"Serial Number":        serialHex(cert),
		"Signature Algorithm":  cert.SignatureAlgorithm.String(),
		"Public Key Algorithm": cert.PublicKeyAlgorithm.String(),
		"Start date":           cert.NotBefore.UTC().Format(certTimeLayout),
		"Expire date":          cert.NotAfter.UTC().Format(certTimeLayout),
	}
	if san := subjectAltNames(cert); san != "" {
		info["X509v3 Subject Alternative Name"] = san
	}
	return info
}

func serialHex(cert *x509.Certificate) string {
	if cert.SerialNumber == nil {
		return ""
	}
	raw := cert.SerialNumber.Bytes()
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

func subjectAltNames(cert *x509.Certificate) string {
	var names []string
	for _, d := range cert.DNSNames {
		names = append(names, "DNS:"+d)
	}
	for _, ip := range cert.IPAddresses {
		names = append(names, "IP Address:"+ip.String())
	}
	for _, e := range cert.EmailAddresses {
		names = append(names, "email:"+e)
	}
	return strings.Join(names, ", ")
}
