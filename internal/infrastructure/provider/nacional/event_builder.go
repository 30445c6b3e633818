package nacional

import (
	"fmt"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// chaveLen longitud de la chave de acesso de la NFS-e nacional.
const chaveLen = 50

// BuildCancelEvent genera el pedido de registro del evento de cancelación (e101101) sin firma.
// Id = "PRE" + chave(50) + tpEvento(6) + nPedRegEvento(3).
func BuildCancelEvent(req ports.CancelRequest, now time.Time, appVersion string) ([]byte, string, error) {
	chave := req.VerificationCode
	if len(chave) != chaveLen || pkgnfse.OnlyDigits(chave) != chave {
		return nil, "", fmt.Errorf("nacional: chave de acesso inválida: %q", chave)
	}
	if req.Issuer == nil {
		return nil, "", fmt.Errorf("nacional: falta el emisor en la solicitud de cancelación")
	}
	const seq = "001"
	id := "PRE" + chave + pkgnfse.EventCancelamento + seq

	x := etree.NewDocument()
	x.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := x.CreateElement("pedRegEvento")
	root.CreateAttr("xmlns", NamespaceNFSe)
	root.CreateAttr("versao", pkgnfse.LayoutVersion)

	inf := root.CreateElement("infPedReg")
	inf.CreateAttr("Id", id)
	text(inf, "tpAmb", pkgnfse.TpAmb(req.Environment))
	text(inf, "verAplic", appVersion)
	text(inf, "dhEvento", now.In(brt).Format("2006-01-02T15:04:05-07:00"))
	taxIDElement(inf, req.Issuer.CNPJ)
	text(inf, "chNFSe", chave)
	text(inf, "nPedRegEvento", seq)

	ev := inf.CreateElement("e" + pkgnfse.EventCancelamento)
	text(ev, "xDesc", "Cancelamento de NFS-e")
	text(ev, "cMotivo", req.ReasonCode)
	text(ev, "xMotivo", pkgnfse.SanitizeText(req.Reason, 255))

	out, err := x.WriteToBytes()
	if err != nil {
		return nil, "", fmt.Errorf("nacional: serializar evento: %w", err)
	}
	return out, id, nil
}
