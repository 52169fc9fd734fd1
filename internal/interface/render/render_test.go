package render

import (
	"strings"
	"testing"
)

const pandasTable = `<style>table { border-collapse: collapse; }</style><table border="1" class="dataframe table table-bordered">
  <thead>
    <tr style="text-align: right;">
      <th>Type</th>
      <th>AvgSales</th>
    </tr>
  </thead>
  <tbody>
    <tr>
      <td>A</td>
      <td>20099.57</td>
    </tr>
    <tr>
      <td>B &amp; C</td>
      <td>12237.08</td>
    </tr>
  </tbody>
</table>`

func TestTableRows(t *testing.T) {
	rows := TableRows(pandasTable)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "Type" || rows[0][1] != "AvgSales" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[2][0] != "B & C" {
		t.Errorf("entities not decoded: %q", rows[2][0])
	}
}

func TestTableRowsNestedMarkup(t *testing.T) {
	markup := `<table>
  <tr><th title="a > b">Store <i>type</i></th><th>Sales</th></tr>
  <tr><td><b>A</b><!-- <td>hidden</td> --></td><td><span data-x=">">1,200</span></td></tr>
</table>`

	rows := TableRows(markup)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "Store type" {
		t.Errorf("unexpected header cell %q", rows[0][0])
	}
	if len(rows[1]) != 2 || rows[1][0] != "A" || rows[1][1] != "1,200" {
		t.Errorf("unexpected row %v", rows[1])
	}
}

func TestTableRowsNoTable(t *testing.T) {
	if rows := TableRows("just text"); rows != nil {
		t.Errorf("expected no rows, got %v", rows)
	}
}

func TestTable(t *testing.T) {
	out := Table(TableRows(pandasTable), 1, 20)
	if !strings.Contains(out, "AvgSales") || !strings.Contains(out, "20099.57") {
		t.Errorf("table missing cells:\n%s", out)
	}
	if strings.Contains(out, "12237.08") {
		t.Errorf("row limit not applied:\n%s", out)
	}
	if !strings.Contains(out, "1 more row") {
		t.Errorf("missing overflow note:\n%s", out)
	}

	if Table(nil, 5, 20) != "" {
		t.Error("empty rows should render nothing")
	}
}

func TestHighlightSQLKeepsText(t *testing.T) {
	out := HighlightSQL("SELECT COUNT(*) FROM stores")
	for _, word := range []string{"SELECT", "COUNT", "stores"} {
		if !strings.Contains(out, word) {
			t.Errorf("highlighted output lost %q: %q", word, out)
		}
	}
}
