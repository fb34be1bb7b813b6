// Package tls serves the keygate API over HTTPS.
//
// Certificates are read through a CertificateReloader, which polls the
// certificate and key files and swaps in renewed pairs without a restart.
// A pair that fails to load or is outside its validity window is rejected
// and the previous pair keeps serving.
//
// With mTLS enabled, clients must present a certificate chaining to the
// configured CA. The client identity is taken from the certificate field
// named by identity_source and appears in access logs.
//
//	server:
//	  tls:
//	    enabled: true
//	    cert_file: /etc/keygate/tls.crt
//	    key_file: /etc/keygate/tls.key
//	    min_version: "1.3"
//	    reload_interval: 5m
//	    mtls:
//	      enabled: true
//	      client_ca_file: /etc/keygate/clients.pem
//	      identity_source: subject.CN
package tls
