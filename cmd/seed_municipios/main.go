// seed_municipios genera el script SQL que puebla la tabla municipalities (códigos IBGE)
// a partir del XML del catálogo de municipios publicado en ISO-8859-1.
//
// Uso: go run ./cmd/seed_municipios [ruta/municipios.xml]
// Formato esperado: <municipios><municipio codigo="3550308" nome="São Paulo" uf="SP"/>...</municipios>
// Escribe: internal/infrastructure/postgres/migrations/002_seed_municipalities.sql
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

type municipality struct {
	code, name, state string
}

func main() {
	xmlPath := "municipios.xml"
	if len(os.Args) > 1 {
		xmlPath = os.Args[1]
	}

	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(charset, "ISO-8859-1") || strings.EqualFold(charset, "ISO8859-1") {
			return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
		}
		return input, nil
	}
	if err := doc.ReadFromFile(xmlPath); err != nil {
		fmt.Fprintf(os.Stderr, "Leer XML: %v\n", err)
		os.Exit(1)
	}

	var list []municipality
	skipped := 0
	for _, el := range doc.FindElements("//municipio") {
		m := municipality{
			code:  strings.TrimSpace(el.SelectAttrValue("codigo", "")),
			name:  strings.TrimSpace(el.SelectAttrValue("nome", "")),
			state: strings.ToUpper(strings.TrimSpace(el.SelectAttrValue("uf", ""))),
		}
		// El dígito verificador del código IBGE descarta filas corruptas del catálogo.
		if m.name == "" || len(m.state) != 2 || pkgnfse.ValidateMunicipalityCode(m.code) != nil {
			skipped++
			continue
		}
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].code < list[j].code })

	moduleRoot := findModuleRoot()
	outPath := filepath.Join(moduleRoot, "internal", "infrastructure", "postgres", "migrations", "002_seed_municipalities.sql")
	out, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Crear archivo: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	out.WriteString("-- Municipios (código IBGE)\n")
	out.WriteString("-- Generado por cmd/seed_municipios\n\n")
	for _, m := range list {
		fmt.Fprintf(out, "INSERT INTO municipalities (code, name, state) VALUES ('%s', '%s', '%s')\n",
			m.code, escapeSQL(m.name), m.state)
		out.WriteString("ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, state = EXCLUDED.state;\n")
	}

	fmt.Printf("Generado %s: %d municipios (%d descartados)\n", outPath, len(list), skipped)
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func findModuleRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
