package sheets

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// timestampColumn is appended automatically by the dict write helpers
// when requested; values are Unix milliseconds.
const timestampColumn = "t_stamp"

// header reads the header row and returns the column names in sheet
// order. An empty slice means the sheet has no header yet.
func (c *Client) header(ctx context.Context, sheet string, headerRow int) ([]string, error) {
	values, err := c.Values(ctx, headerRange(sheet, headerRow))
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	columns := make([]string, 0, len(values[0]))
	for _, v := range values[0] {
		columns = append(columns, fmt.Sprint(v))
	}
	return columns, nil
}

// DictRows reads data rows as header-keyed maps. endRow <= 0 reads to
// the bottom of the sheet. Missing trailing cells become empty strings.
func (c *Client) DictRows(ctx context.Context, sheet string, headerRow, startRow, endRow int) ([]map[string]any, error) {
	columns, err := c.header(ctx, sheet, headerRow)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		c.logger.Info("dict read: header not found", "sheet", sheet, "header_row", headerRow)
		return nil, nil
	}

	values, err := c.Values(ctx, blockRange(sheet, startRow, endRow, len(columns)))
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(values))
	for _, raw := range values {
		row := make(map[string]any, len(columns))
		for i, name := range columns {
			if i < len(raw) {
				row[name] = raw[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendDictRows appends rows given as column-name keyed maps, aligning
// them to the header and widening the header when new keys appear. With
// addTimestamp the t_stamp column is filled with the current time.
func (c *Client) AppendDictRows(ctx context.Context, sheet string, headerRow int, dictRows []map[string]any, addTimestamp bool) (map[string]any, error) {
	columns, values, widened, err := c.alignToHeader(ctx, sheet, headerRow, dictRows, addTimestamp)
	if err != nil {
		return nil, err
	}
	if widened {
		if err := c.writeHeader(ctx, sheet, headerRow, columns); err != nil {
			return nil, err
		}
	}
	// Sheet name only, so the API appends after the last table row.
	return c.Append(ctx, sheet, values, UserEntered)
}

// UpdateDictRows overwrites a contiguous block of rows starting at
// startRow, using the same header alignment and widening rules as
// AppendDictRows.
func (c *Client) UpdateDictRows(ctx context.Context, sheet string, headerRow, startRow int, dictRows []map[string]any, addTimestamp bool) (map[string]any, error) {
	columns, values, widened, err := c.alignToHeader(ctx, sheet, headerRow, dictRows, addTimestamp)
	if err != nil {
		return nil, err
	}
	if widened {
		if err := c.writeHeader(ctx, sheet, headerRow, columns); err != nil {
			return nil, err
		}
	}
	endRow := startRow + len(values) - 1
	return c.Update(ctx, blockRange(sheet, startRow, endRow, len(columns)), values, UserEntered)
}

// ClearDictRows clears rows startRow..endRow across the header's width.
func (c *Client) ClearDictRows(ctx context.Context, sheet string, headerRow, startRow, endRow int) (map[string]any, error) {
	columns, err := c.header(ctx, sheet, headerRow)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		c.logger.Info("dict clear: header not found, skipping", "sheet", sheet)
		return nil, nil
	}
	return c.Clear(ctx, blockRange(sheet, startRow, endRow, len(columns)))
}

// alignToHeader merges the dict rows against the current header. It
// returns the (possibly widened) column list, the rectangular values
// aligned to it, and whether the header grew.
func (c *Client) alignToHeader(ctx context.Context, sheet string, headerRow int, dictRows []map[string]any, addTimestamp bool) ([]string, [][]any, bool, error) {
	existing, err := c.header(ctx, sheet, headerRow)
	if err != nil {
		return nil, nil, false, err
	}

	columns := append([]string(nil), existing...)
	if addTimestamp && !contains(columns, timestampColumn) {
		columns = append(columns, timestampColumn)
	}

	now := time.Now().UnixMilli()
	values := make([][]any, 0, len(dictRows))
	for _, d := range dictRows {
		row := make(map[string]any, len(d)+1)
		for k, v := range d {
			row[k] = v
		}
		if addTimestamp {
			row[timestampColumn] = now
		}

		// New keys widen the header; sorted for a deterministic order.
		var added []string
		for k := range row {
			if !contains(columns, k) {
				added = append(added, k)
			}
		}
		sort.Strings(added)
		columns = append(columns, added...)

		aligned := make([]any, len(columns))
		for i, col := range columns {
			if v, ok := row[col]; ok {
				aligned[i] = v
			} else {
				aligned[i] = ""
			}
		}
		values = append(values, aligned)
	}

	// Earlier rows may be narrower than the final column set.
	for i, row := range values {
		for len(row) < len(columns) {
			row = append(row, "")
		}
		values[i] = row
	}

	return columns, values, len(columns) > len(existing), nil
}

// writeHeader rewrites the header row across the full widened width.
func (c *Client) writeHeader(ctx context.Context, sheet string, headerRow int, columns []string) error {
	header := make([]any, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	rangeA1 := fmt.Sprintf("%s!A%d:%s%d", sheet, headerRow, ColumnLetters(len(columns)), headerRow)
	_, err := c.Update(ctx, rangeA1, [][]any{header}, UserEntered)
	return err
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
