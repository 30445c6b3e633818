package cmd

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPEM(t *testing.T, notBefore, notAfter time.Time) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "PRESTADORA LTDA:11222333000181"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cert.pem")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, pem.Encode(f, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	return path
}

func TestCheckCertificate(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		notBefore time.Time
		notAfter  time.Time
		wantErr   string
		wantOut   string
	}{
		{name: "vigente", notBefore: now.AddDate(-1, 0, 0), notAfter: now.AddDate(1, 0, 0), wantOut: "OK: certificado"},
		{name: "por vencer", notBefore: now.AddDate(-1, 0, 0), notAfter: now.AddDate(0, 0, 10), wantOut: "AVISO: vence en"},
		{name: "vencido", notBefore: now.AddDate(-2, 0, 0), notAfter: now.AddDate(0, 0, -1), wantErr: "vencido"},
		{name: "aún no válido", notBefore: now.AddDate(0, 0, 1), notAfter: now.AddDate(1, 0, 0), wantErr: "aún no es válido"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestPEM(t, tt.notBefore, tt.notAfter)
			var out bytes.Buffer
			err := checkCertificate(&out, path, "", now)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.wantOut)
			assert.Contains(t, out.String(), "CNPJ:     11222333000181")
		})
	}
}

func TestCheckCertificate_ArchivoInexistente(t *testing.T) {
	var out bytes.Buffer
	err := checkCertificate(&out, filepath.Join(t.TempDir(), "no.p12"), "", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archivo")
}

func TestCertcheckCmd(t *testing.T) {
	path := writeTestPEM(t, time.Now().AddDate(-1, 0, 0), time.Now().AddDate(1, 0, 0))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"certcheck", "--cert", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Titular:  CN=PRESTADORA LTDA:11222333000181")
	assert.Contains(t, out.String(), "OK: certificado")
}
