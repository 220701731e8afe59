package report

import (
	"embed"
	"html/template"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// HTMLFileName is the name of the file the HTML report is written to.
const HTMLFileName = "report.html"

const title = "nextmerge report"

//go:embed pages/templates/*
var templFS embed.FS

//go:embed pages/static/report.css
var stylesheet string

var templates = template.Must(template.New("").ParseFS(templFS, "pages/templates/*"))

type htmlData struct {
	Title      string
	Stylesheet template.CSS
	Tables     []Table
}

// RenderHTML writes the report as HTML document to w.
func RenderHTML(w io.Writer, p *Pivot) error {
	return templates.ExecuteTemplate(w, "report.html.tmpl", &htmlData{
		Title:      title,
		Stylesheet: template.CSS(stylesheet),
		Tables:     p.Tables(),
	})
}

// RenderText writes the report as text tables to w.
func RenderText(w io.Writer, p *Pivot) error {
	for _, tbl := range p.Tables() {
		if _, err := io.WriteString(w, renderTextTable(&tbl)+"\n\n"); err != nil {
			return err
		}
	}

	return nil
}

func renderTextTable(tbl *Table) string {
	t := table.NewWriter()
	t.SetTitle(tbl.Title)
	t.SetStyle(table.StyleLight)

	header := table.Row{""}
	for _, h := range tbl.Header {
		header = append(header, h)
	}
	t.AppendHeader(header)

	for _, r := range tbl.Rows {
		row := table.Row{r.Label}
		for _, c := range r.Cells {
			row = append(row, c.Text)
		}

		t.AppendRow(row)
	}

	if len(tbl.Rows) == 0 {
		t.AppendRow(table.Row{"no data"})
	}

	return strings.TrimRight(t.Render(), "\n")
}
