package tls

import (
	"crypto/x509"
	"net/http"
)

// ClientIdentity returns the identity of the verified client certificate
// of r, or "" for plain or anonymous connections. source is one of
// "subject.CN", "subject.OU", "subject.O" or "SAN".
func ClientIdentity(r *http.Request, source string) string {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return ""
	}
	return identityFrom(r.TLS.PeerCertificates[0], source)
}

func identityFrom(cert *x509.Certificate, source string) string {
	switch source {
	case "subject.CN", "":
		return cert.Subject.CommonName
	case "subject.OU":
		if len(cert.Subject.OrganizationalUnit) > 0 {
			return cert.Subject.OrganizationalUnit[0]
		}
	case "subject.O":
		if len(cert.Subject.Organization) > 0 {
			return cert.Subject.Organization[0]
		}
	case "SAN":
		if len(cert.DNSNames) > 0 {
			return cert.DNSNames[0]
		}
	}
	return ""
}
