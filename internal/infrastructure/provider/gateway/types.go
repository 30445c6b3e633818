package gateway

import "strings"

// Cuerpos JSON de la API v2 del intermediario.

type address struct {
	Logradouro   string `json:"logradouro,omitempty"`
	CodigoCidade string `json:"codigoCidade,omitempty"`
	CEP          string `json:"cep,omitempty"`
}

type party struct {
	CPFCNPJ            string   `json:"cpfCnpj"`
	RazaoSocial        string   `json:"razaoSocial,omitempty"`
	InscricaoMunicipal string   `json:"inscricaoMunicipal,omitempty"`
	CodigoCidade       string   `json:"codigoCidade,omitempty"`
	SimplesNacional    *bool    `json:"simplesNacional,omitempty"`
	Email              string   `json:"email,omitempty"`
	Telefone           string   `json:"telefone,omitempty"`
	Endereco           *address `json:"endereco,omitempty"`
}

type retencoes struct {
	ISS    string `json:"iss"`
	PIS    string `json:"pis"`
	COFINS string `json:"cofins"`
	CSLL   string `json:"csll"`
	IRRF   string `json:"irrf"`
	INSS   string `json:"inss"`
}

type valores struct {
	Servico   string    `json:"servico"`
	Deducoes  string    `json:"deducoes"`
	Retencoes retencoes `json:"retencoes"`
	Liquido   string    `json:"liquido"`
}

type item struct {
	Codigo        string `json:"codigo,omitempty"`
	Descricao     string `json:"descricao"`
	Quantidade    string `json:"quantidade"`
	ValorUnitario string `json:"valorUnitario"`
	ValorTotal    string `json:"valorTotal"`
	Aliquota      string `json:"aliquota"`
}

type servico struct {
	Codigo                 string  `json:"codigo"`
	Discriminacao          string  `json:"discriminacao"`
	CodigoCidadeIncidencia string  `json:"codigoCidadeIncidencia"`
	Valores                valores `json:"valores"`
	Itens                  []item  `json:"itens,omitempty"`
}

// issueRequest cuerpo de POST /v2/nfse.
type issueRequest struct {
	IDIntegracao string  `json:"idIntegracao"`
	Ambiente     string  `json:"ambiente"`
	DataEmissao  string  `json:"dataEmissao"`
	Competencia  string  `json:"competencia"`
	Vencimento   string  `json:"vencimento,omitempty"`
	Serie        string  `json:"serie,omitempty"`
	Numero       int64   `json:"numeroDps"`
	Prestador    party   `json:"prestador"`
	Tomador      *party  `json:"tomador,omitempty"`
	Servico      servico `json:"servico"`
}

// cancelRequest cuerpo de POST /v2/nfse/cancelar.
type cancelRequest struct {
	IDIntegracao      string `json:"idIntegracao"`
	Protocolo         string `json:"protocolo,omitempty"`
	Numero            string `json:"numero"`
	CodigoVerificacao string `json:"codigoVerificacao,omitempty"`
	CodigoMotivo      string `json:"codigoMotivo"`
	Motivo            string `json:"motivo"`
}

type apiError struct {
	Codigo   string `json:"codigo"`
	Mensagem string `json:"mensagem"`
}

// nfseResponse respuesta de emisión, consulta y cancelación.
type nfseResponse struct {
	IDIntegracao      string     `json:"idIntegracao"`
	Protocolo         string     `json:"protocolo"`
	Situacao          string     `json:"situacao"`
	Numero            string     `json:"numero"`
	CodigoVerificacao string     `json:"codigoVerificacao"`
	XML               string     `json:"xml"`
	Mensagem          string     `json:"mensagem"`
	Erros             []apiError `json:"erros"`
}

// Situaciones del intermediario.
const (
	situacaoAutorizada  = "AUTORIZADA"
	situacaoProcessando = "PROCESSANDO"
	situacaoRejeitada   = "REJEITADA"
	situacaoCancelada   = "CANCELADA"
)

// reason texto literal del rechazo: mensagem general seguido de los erros.
func (r nfseResponse) reason() (code, reason string) {
	parts := make([]string, 0, len(r.Erros)+1)
	if r.Mensagem != "" {
		parts = append(parts, r.Mensagem)
	}
	for i, e := range r.Erros {
		if i == 0 {
			code = e.Codigo
		}
		if e.Codigo != "" {
			parts = append(parts, e.Codigo+": "+e.Mensagem)
		} else {
			parts = append(parts, e.Mensagem)
		}
	}
	return code, strings.Join(parts, "; ")
}
