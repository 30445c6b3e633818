// Firma XMLDSig envelopada: digiere el elemento referenciado por Id (C14N) y agrega
// <Signature> como último hijo de la raíz del documento.

package xmldsig

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// Service implementa pkg/nfse.Signer.
type Service struct{}

// NewService crea el servicio de firma.
func NewService() *Service {
	return &Service{}
}

var _ nfse.Signer = (*Service)(nil)

// Sign firma el elemento con atributo Id=referenceID y devuelve el documento con la firma.
func (s *Service) Sign(xmlBytes []byte, referenceID string, cert tls.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("xmldsig: XML vacío")
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("xmldsig: certificado vacío")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("xmldsig: el certificado debe incluir llave privada RSA")
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("xmldsig: parsear certificado: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("xmldsig: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("xmldsig: documento sin raíz")
	}
	target := findByID(root, referenceID)
	if target == nil {
		return nil, fmt.Errorf("xmldsig: no existe elemento con Id=%q", referenceID)
	}

	// 1) Digest del elemento referenciado (C14N, namespace heredado de la raíz)
	canonicalRef, err := canonicalElement(target, root.SelectAttrValue("xmlns", ""))
	if err != nil {
		return nil, err
	}
	refDigest := sha256.Sum256(canonicalRef)

	// 2) SignedInfo
	signedInfoXML := buildSignedInfo(referenceID, base64.StdEncoding.EncodeToString(refDigest[:]))
	canonicalSignedInfo, err := canonicalize([]byte(signedInfoXML))
	if err != nil {
		return nil, fmt.Errorf("xmldsig: canonicalizar SignedInfo: %w", err)
	}
	hash := sha256.Sum256(canonicalSignedInfo)
	sigValue, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hash[:])
	if err != nil {
		return nil, fmt.Errorf("xmldsig: firmar SignedInfo: %w", err)
	}

	// 3) Signature completa: SignedInfo + SignatureValue + KeyInfo(X509Certificate)
	signatureXML := buildSignature(signedInfoXML,
		base64.StdEncoding.EncodeToString(sigValue),
		base64.StdEncoding.EncodeToString(x509Cert.Raw))

	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("xmldsig: parsear Signature: %w", err)
	}
	root.AddChild(sigDoc.Root())

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("xmldsig: serializar: %w", err)
	}
	return out.Bytes(), nil
}

// canonicalElement serializa el elemento de forma aislada y lo canonicaliza.
// Si el elemento no declara namespace por defecto se le agrega el de la raíz, como haría C14N
// al procesar el subárbol en su contexto.
func canonicalElement(el *etree.Element, inheritedNS string) ([]byte, error) {
	cp := el.Copy()
	if inheritedNS != "" && cp.SelectAttr("xmlns") == nil {
		cp.CreateAttr("xmlns", inheritedNS)
	}
	d := etree.NewDocument()
	d.SetRoot(cp)
	raw, err := d.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("xmldsig: serializar elemento: %w", err)
	}
	out, err := canonicalize(raw)
	if err != nil {
		return nil, fmt.Errorf("xmldsig: canonicalizar elemento: %w", err)
	}
	return out, nil
}

func findByID(el *etree.Element, id string) *etree.Element {
	if el.SelectAttrValue("Id", "") == id {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func buildSignedInfo(referenceID, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<Reference URI="#` + referenceID + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<Transform Algorithm="` + AlgC14N + `"/></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference></SignedInfo>`)
	return sb.String()
}

func buildSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<SignatureValue>` + signatureValueB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}
