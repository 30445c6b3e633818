package secrets

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/nfse-emissor/internal/application/ports"
)

// CertificateStore implementa ports.CertificateSource: carga certificados .p12/.pfx (o PEM) y los
// mantiene en caché mientras el archivo no cambie.
type CertificateStore struct {
	secrets ports.SecretSource
	clock   clockwork.Clock

	mu    sync.Mutex
	cache map[string]cachedCert
}

type cachedCert struct {
	modTime time.Time
	cert    tls.Certificate
}

var _ ports.CertificateSource = (*CertificateStore)(nil)

// NewCertificateStore crea el almacén. secrets resuelve la referencia de la contraseña.
func NewCertificateStore(secrets ports.SecretSource, clock clockwork.Clock) *CertificateStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CertificateStore{secrets: secrets, clock: clock, cache: make(map[string]cachedCert)}
}

// Load carga el certificado de certRef (ruta, con o sin prefijo file:). passwordRef vacío = sin contraseña.
// Falla si el certificado está vencido o aún no es válido.
func (s *CertificateStore) Load(ctx context.Context, certRef, passwordRef string) (tls.Certificate, error) {
	path := strings.TrimPrefix(certRef, SchemeFile)
	st, err := os.Stat(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certificado %s: %w", path, err)
	}
	key := path + "|" + passwordRef

	s.mu.Lock()
	c, ok := s.cache[key]
	s.mu.Unlock()
	if !ok || !c.modTime.Equal(st.ModTime()) {
		password := ""
		if passwordRef != "" {
			if password, err = s.secrets.Resolve(ctx, passwordRef); err != nil {
				return tls.Certificate{}, fmt.Errorf("contraseña del certificado: %w", err)
			}
		}
		cert, err := LoadCertificate(path, password)
		if err != nil {
			return tls.Certificate{}, err
		}
		c = cachedCert{modTime: st.ModTime(), cert: cert}
		s.mu.Lock()
		s.cache[key] = c
		s.mu.Unlock()
	}

	if err := checkValidity(c.cert.Leaf, s.clock.Now()); err != nil {
		return tls.Certificate{}, err
	}
	return c.cert, nil
}

// LoadCertificate carga certificado y llave privada desde un .p12/.pfx o desde un PEM combinado
// (certificado + llave en el mismo archivo).
func LoadCertificate(path, password string) (tls.Certificate, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pem", ".crt":
		cert, err := tls.LoadX509KeyPair(path, path)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("cargar PEM: %w", err)
		}
		if cert.Leaf == nil {
			if cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
				return tls.Certificate{}, fmt.Errorf("cargar PEM: %w", err)
			}
		}
		return cert, nil
	default:
		return LoadFromP12(path, password)
	}
}

// LoadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
// El password puede ser vacío si el archivo no está protegido.
func LoadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decodificar p12: %w", err)
	}
	// pkcs12.Decode devuelve un solo certificado; para ICP-Brasil basta el certificado hoja.
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// ErrCertificateExpired certificado fuera de su período de validez.
var ErrCertificateExpired = errors.New("certificado fuera de vigencia")

func checkValidity(leaf *x509.Certificate, now time.Time) error {
	if leaf == nil {
		return nil
	}
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return fmt.Errorf("%w: válido de %s a %s", ErrCertificateExpired,
			leaf.NotBefore.Format(time.DateOnly), leaf.NotAfter.Format(time.DateOnly))
	}
	return nil
}
