package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"campuscore/keygate/pkg/config"
)

// Build assembles the listener's tls.Config. The certificate is served by
// reloader so renewed files take effect without a restart.
func Build(cfg config.TLSConfig, reloader *CertificateReloader) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if reloader == nil {
		return nil, errors.New("certificate reloader is required when TLS is enabled")
	}

	suites, err := parseCipherSuites(cfg.CipherSuites)
	if err != nil {
		return nil, err
	}

	// #nosec G402 - MinVersion is validated to 1.2 or 1.3
	tlsConfig := &tls.Config{
		GetCertificate: reloader.GetCertificateFunc(),
		MinVersion:     parseTLSVersion(cfg.MinVersion),
		CipherSuites:   suites,
	}

	if cfg.MTLS.Enabled {
		if err := configureMTLS(tlsConfig, cfg.MTLS); err != nil {
			return nil, fmt.Errorf("failed to configure mTLS: %w", err)
		}
	}

	return tlsConfig, nil
}

// parseTLSVersion maps "1.2" to TLS 1.2. Everything else is TLS 1.3.
func parseTLSVersion(v string) uint16 {
	if v == "1.2" {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}

// parseCipherSuites resolves suite names. Nil keeps Go's defaults.
func parseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}

	suites := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := cipherSuites[name]
		if !ok {
			return nil, fmt.Errorf("unsupported cipher suite %q", name)
		}
		suites = append(suites, id)
	}
	return suites, nil
}

// cipherSuites lists the accepted suite names. TLS 1.3 suites are always
// enabled by Go and are accepted here only so configs may name them.
var cipherSuites = map[string]uint16{
	"TLS_AES_128_GCM_SHA256":       tls.TLS_AES_128_GCM_SHA256,
	"TLS_AES_256_GCM_SHA384":       tls.TLS_AES_256_GCM_SHA384,
	"TLS_CHACHA20_POLY1305_SHA256": tls.TLS_CHACHA20_POLY1305_SHA256,

	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305":    tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305":  tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

func configureMTLS(tlsConfig *tls.Config, cfg config.MTLSConfig) error {
	if cfg.ClientCAFile == "" {
		return errors.New("client_ca_file is required when mTLS is enabled")
	}

	pem, err := os.ReadFile(cfg.ClientCAFile)
	if err != nil {
		return fmt.Errorf("failed to read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return errors.New("failed to parse client CA certificate")
	}

	tlsConfig.ClientCAs = pool
	tlsConfig.ClientAuth = parseClientAuthType(cfg.ClientAuthType)
	return nil
}

func parseClientAuthType(s string) tls.ClientAuthType {
	switch s {
	case "request":
		return tls.RequestClientCert
	case "verify_if_given":
		return tls.VerifyClientCertIfGiven
	default:
		return tls.RequireAndVerifyClientCert
	}
}
