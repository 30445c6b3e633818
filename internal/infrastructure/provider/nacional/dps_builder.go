package nacional

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// NamespaceNFSe namespace de la DPS y de los eventos.
const NamespaceNFSe = "http://www.sped.fazenda.gov.br/nfse"

// brt horario de Brasília; fijo para no depender de tzdata en el contenedor.
var brt = time.FixedZone("BRT", -3*60*60)

// BuildDPS genera el XML de la DPS (sin firma) y devuelve también su Id (referencia de la firma).
//
//	DPS → infDPS(Id) → tpAmb, dhEmi, verAplic, serie, nDPS, dCompet, tpEmit, cLocEmi,
//	      prest, toma?, serv, valores
func BuildDPS(req ports.SubmissionRequest, now time.Time, appVersion string) ([]byte, string, error) {
	doc, issuer := req.Document, req.Issuer
	if doc == nil || issuer == nil {
		return nil, "", fmt.Errorf("nacional: faltan documento o emisor en la solicitud")
	}
	id, err := dpsID(doc, issuer)
	if err != nil {
		return nil, "", err
	}

	x := etree.NewDocument()
	x.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := x.CreateElement("DPS")
	root.CreateAttr("xmlns", NamespaceNFSe)
	root.CreateAttr("versao", pkgnfse.LayoutVersion)

	inf := root.CreateElement("infDPS")
	inf.CreateAttr("Id", id)
	text(inf, "tpAmb", pkgnfse.TpAmb(req.Environment))
	text(inf, "dhEmi", now.In(brt).Format("2006-01-02T15:04:05-07:00"))
	text(inf, "verAplic", appVersion)
	text(inf, "serie", seriesOrDefault(doc.Series))
	text(inf, "nDPS", strconv.FormatInt(doc.SequenceNumber, 10))
	text(inf, "dCompet", doc.Competence.Format("2006-01-02"))
	text(inf, "tpEmit", "1") // Prestador
	text(inf, "cLocEmi", issuer.MunicipalityCode)

	// ── Prestador ────────────────────────────────────────────────────────────
	prest := inf.CreateElement("prest")
	taxIDElement(prest, issuer.CNPJ)
	if issuer.MunicipalRegistration != "" {
		text(prest, "IM", issuer.MunicipalRegistration)
	}
	optional(prest, "fone", pkgnfse.OnlyDigits(issuer.Phone))
	optional(prest, "email", issuer.Email)
	reg := prest.CreateElement("regTrib")
	if issuer.SimplesNacional {
		text(reg, "opSimpNac", "3") // ME/EPP
	} else {
		text(reg, "opSimpNac", "1") // No optante
	}
	text(reg, "regEspTrib", "0")

	// ── Tomador (opcional) ─────────────────────────────────────────────────────
	if p := req.Payer; p != nil {
		toma := inf.CreateElement("toma")
		taxIDElement(toma, p.TaxID)
		text(toma, "xNome", pkgnfse.SanitizeText(p.Name, 300))
		if p.MunicipalityCode != "" {
			end := toma.CreateElement("end")
			endNac := end.CreateElement("endNac")
			text(endNac, "cMun", p.MunicipalityCode)
			optional(endNac, "CEP", pkgnfse.OnlyDigits(p.PostalCode))
			optional(end, "xLgr", pkgnfse.SanitizeText(p.Address, 255))
		}
		optional(toma, "fone", pkgnfse.OnlyDigits(p.Phone))
		optional(toma, "email", p.Email)
	}

	// ── Servicio ─────────────────────────────────────────────────────────────
	serv := inf.CreateElement("serv")
	loc := serv.CreateElement("locPrest")
	text(loc, "cLocPrestacao", doc.MunicipalityCode)
	cServ := serv.CreateElement("cServ")
	text(cServ, "cTribNac", doc.ServiceCode)
	text(cServ, "xDescServ", pkgnfse.SanitizeText(doc.Description, 2000))

	// ── Valores ──────────────────────────────────────────────────────────────
	val := inf.CreateElement("valores")
	text(val.CreateElement("vServPrest"), "vServ", pkgnfse.FormatAmount(doc.ServiceValue))
	if doc.Deductions.IsPositive() {
		text(val.CreateElement("vDedRed"), "vDR", pkgnfse.FormatAmount(doc.Deductions))
	}
	trib := val.CreateElement("trib")
	tribMun := trib.CreateElement("tribMun")
	text(tribMun, "tribISSQN", "1") // Operación tributable
	if doc.Withholdings.ISS.IsPositive() {
		text(tribMun, "tpRetISSQN", pkgnfse.RetISSRetidoTomador)
	} else {
		text(tribMun, "tpRetISSQN", pkgnfse.RetISSNaoRetido)
	}

	w := doc.Withholdings
	if anyPositive(w.PIS, w.COFINS, w.CSLL, w.IRRF, w.INSS) {
		fed := trib.CreateElement("tribFed")
		if anyPositive(w.PIS, w.COFINS) {
			pc := fed.CreateElement("piscofins")
			text(pc, "CST", "01")
			text(pc, "vPis", pkgnfse.FormatAmount(w.PIS))
			text(pc, "vCofins", pkgnfse.FormatAmount(w.COFINS))
			text(pc, "tpRetPisCofins", "1") // Retenido
		}
		positive(fed, "vRetCP", w.INSS)
		positive(fed, "vRetIRRF", w.IRRF)
		positive(fed, "vRetCSLL", w.CSLL)
	}
	text(trib.CreateElement("totTrib"), "indTotTrib", "0")

	out, err := x.WriteToBytes()
	if err != nil {
		return nil, "", fmt.Errorf("nacional: serializar DPS: %w", err)
	}
	return out, id, nil
}

// dpsID identificador determinista del documento.
func dpsID(doc *entity.FiscalDocument, issuer *entity.Company) (string, error) {
	return pkgnfse.BuildDPSID(pkgnfse.DPSIDParams{
		MunicipalityCode: issuer.MunicipalityCode,
		IssuerTaxID:      issuer.CNPJ,
		Series:           doc.Series,
		Number:           doc.SequenceNumber,
	})
}

func seriesOrDefault(s string) string {
	if d := pkgnfse.OnlyDigits(s); d != "" {
		return d
	}
	return "1"
}

func text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

func optional(parent *etree.Element, tag, value string) {
	if value != "" {
		text(parent, tag, value)
	}
}

func positive(parent *etree.Element, tag string, v decimal.Decimal) {
	if v.IsPositive() {
		text(parent, tag, pkgnfse.FormatAmount(v))
	}
}

func anyPositive(vs ...decimal.Decimal) bool {
	for _, v := range vs {
		if v.IsPositive() {
			return true
		}
	}
	return false
}

// taxIDElement escribe <CNPJ> o <CPF> según la cantidad de dígitos.
func taxIDElement(parent *etree.Element, taxID string) {
	d := pkgnfse.OnlyDigits(taxID)
	if len(d) == 11 {
		text(parent, "CPF", d)
		return
	}
	text(parent, "CNPJ", d)
}
