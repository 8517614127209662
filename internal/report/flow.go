package report

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"twstock-screener/internal/model"
)

// WriteFlow writes institutional flow as date,code,net_inst.
func WriteFlow(w io.Writer, records []model.FlowRecord) error {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{model.DayKey(r.Date), r.Code, strconv.FormatFloat(r.NetLots, 'f', -1, 64)}
	}
	return writeCSV(w, []string{"date", "code", "net_inst"}, rows)
}

// ReadFlow parses a date,code,net_inst CSV (column order free, optional
// BOM). Rows with an unparsable date or value are skipped.
func ReadFlow(r io.Reader) ([]model.FlowRecord, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && string(b) == bom {
		br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("report: flow header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	di, okD := col["date"]
	ci, okC := col["code"]
	ni, okN := col["net_inst"]
	if !okD || !okC || !okN {
		return nil, fmt.Errorf("report: flow file needs date, code and net_inst columns, got %v", header)
	}

	var out []model.FlowRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("report: flow row: %w", err)
		}
		if len(row) <= di || len(row) <= ci || len(row) <= ni {
			continue
		}
		d, err := time.Parse("2006-01-02", strings.TrimSpace(row[di]))
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[ni]), 64)
		if err != nil {
			continue
		}
		out = append(out, model.FlowRecord{Date: d, Code: strings.TrimSpace(row[ci]), NetLots: v})
	}
	return out, nil
}
