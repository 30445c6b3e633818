// Package nfse: interfaz para firma digital de documentos XML (XMLDSig, ICP-Brasil).

package nfse

import "crypto/tls"

// Signer firma un XML y devuelve el documento con ds:Signature inyectado.
type Signer interface {
	// Sign firma el elemento cuyo atributo Id es referenceID, con el certificado y llave privada dados,
	// y devuelve el XML con el nodo ds:Signature como último hijo de la raíz (firma envelopada).
	Sign(xmlBytes []byte, referenceID string, cert tls.Certificate) ([]byte, error)
}
