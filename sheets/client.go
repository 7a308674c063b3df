package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"gsheetd/auth"
)

const defaultBaseURL = "https://sheets.googleapis.com/v4"

// Value input options for write operations.
const (
	UserEntered = "USER_ENTERED"
	RawInput    = "RAW"
)

// APIError reports a non-2xx response from the Sheets API. No retry is
// attempted; retry policy is a caller concern.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sheets: API returned %d: %s", e.Status, e.Body)
}

// ValueRange pairs an A1 range with a rectangular block of values. It
// is the wire shape of the values endpoints.
type ValueRange struct {
	Range  string  `json:"range,omitempty"`
	Values [][]any `json:"values"`
}

// Spreadsheet is the subset of the spreadsheets.get resource consumed
// here.
type Spreadsheet struct {
	SpreadsheetID string `json:"spreadsheetId"`
	Properties    struct {
		Title string `json:"title"`
	} `json:"properties"`
	Sheets []struct {
		Properties SheetProperties `json:"properties"`
	} `json:"sheets"`
}

// SheetProperties carries the per-sheet identifiers.
type SheetProperties struct {
	SheetID int64  `json:"sheetId"`
	Title   string `json:"title"`
}

// SheetIDMap maps sheet titles to numeric ids and back.
type SheetIDMap struct {
	ByName map[string]int64
	ByID   map[int64]string
}

// Cell is one value keyed by its column letter.
type Cell struct {
	Column string
	Value  any
}

// Row is an ordered sequence of cells, left to right.
type Row []Cell

// Get returns the value at the given column letter.
func (r Row) Get(column string) (any, bool) {
	for _, c := range r {
		if c.Column == column {
			return c.Value, true
		}
	}
	return nil, false
}

// Client is a thin REST wrapper over the Sheets values API. Every
// request obtains a fresh token through the TokenSource freshness gate
// and carries it as a bearer header via the oauth2 transport.
type Client struct {
	spreadsheetID string
	http          *http.Client
	baseURL       string
	logger        *slog.Logger
}

// NewClient builds a client for one spreadsheet.
func NewClient(ctx context.Context, spreadsheetID string, src auth.TokenSource, logger *slog.Logger) *Client {
	hc := oauth2.NewClient(ctx, auth.OAuth2TokenSource(ctx, src))
	hc.Timeout = 10 * time.Second
	return &Client{
		spreadsheetID: spreadsheetID,
		http:          hc,
		baseURL:       defaultBaseURL,
		logger:        logger,
	}
}

// Spreadsheet fetches the spreadsheet resource (sheets, properties).
func (c *Client) Spreadsheet(ctx context.Context) (*Spreadsheet, error) {
	var meta Spreadsheet
	u := c.baseURL + "/spreadsheets/" + c.spreadsheetID
	if err := c.do(ctx, http.MethodGet, u, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// SheetIDs builds the sheet name to numeric id mapping and its inverse.
func (c *Client) SheetIDs(ctx context.Context) (SheetIDMap, error) {
	meta, err := c.Spreadsheet(ctx)
	if err != nil {
		return SheetIDMap{}, err
	}
	ids := SheetIDMap{ByName: map[string]int64{}, ByID: map[int64]string{}}
	for _, sheet := range meta.Sheets {
		props := sheet.Properties
		if props.Title == "" {
			continue
		}
		ids.ByName[props.Title] = props.SheetID
		ids.ByID[props.SheetID] = props.Title
	}
	return ids, nil
}

// Values reads a range as a raw rectangular block.
func (c *Client) Values(ctx context.Context, rangeA1 string) ([][]any, error) {
	var vr ValueRange
	if err := c.do(ctx, http.MethodGet, c.valuesURL(rangeA1), nil, &vr); err != nil {
		return nil, err
	}
	return vr.Values, nil
}

// Rows reads a range as ordered rows keyed by column letter.
func (c *Client) Rows(ctx context.Context, rangeA1 string) ([]Row, error) {
	values, err := c.Values(ctx, rangeA1)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(values))
	for _, raw := range values {
		row := make(Row, 0, len(raw))
		for i, v := range raw {
			row = append(row, Cell{Column: ColumnLetters(i + 1), Value: v})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Append adds rows after the last row of the table in rangeA1. Passing
// just a sheet name appends at the end of that sheet; existing data is
// never overwritten.
func (c *Client) Append(ctx context.Context, rangeA1 string, values [][]any, inputOption string) (map[string]any, error) {
	q := url.Values{
		"valueInputOption": {orDefault(inputOption)},
		"insertDataOption": {"OVERWRITE"},
	}
	u := c.valuesURL(rangeA1) + ":append?" + q.Encode()
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, u, ValueRange{Values: values}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update overwrites exactly the given range.
func (c *Client) Update(ctx context.Context, rangeA1 string, values [][]any, inputOption string) (map[string]any, error) {
	q := url.Values{"valueInputOption": {orDefault(inputOption)}}
	u := c.valuesURL(rangeA1) + "?" + q.Encode()
	var out map[string]any
	if err := c.do(ctx, http.MethodPut, u, ValueRange{Values: values}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clear empties all values in the range, leaving formatting intact.
func (c *Client) Clear(ctx context.Context, rangeA1 string) (map[string]any, error) {
	u := c.valuesURL(rangeA1) + ":clear"
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, u, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchGet reads several ranges in one call. The result is keyed by the
// range string the API reports back, which may be normalized.
func (c *Client) BatchGet(ctx context.Context, ranges []string, majorDimension string) (map[string][][]any, error) {
	if majorDimension == "" {
		majorDimension = "ROWS"
	}
	q := url.Values{"majorDimension": {majorDimension}}
	for _, r := range ranges {
		q.Add("ranges", strings.TrimSpace(r))
	}
	u := c.baseURL + "/spreadsheets/" + c.spreadsheetID + "/values:batchGet?" + q.Encode()

	var resp struct {
		ValueRanges []ValueRange `json:"valueRanges"`
	}
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[string][][]any, len(resp.ValueRanges))
	for _, vr := range resp.ValueRanges {
		if vr.Range != "" {
			out[vr.Range] = vr.Values
		}
	}
	return out, nil
}

// BatchUpdate writes several ranges in one call.
func (c *Client) BatchUpdate(ctx context.Context, items []ValueRange, inputOption string) (map[string]any, error) {
	u := c.baseURL + "/spreadsheets/" + c.spreadsheetID + "/values:batchUpdate"
	body := map[string]any{
		"valueInputOption": orDefault(inputOption),
		"data":             items,
	}
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, u, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) valuesURL(rangeA1 string) string {
	return c.baseURL + "/spreadsheets/" + c.spreadsheetID + "/values/" + url.PathEscape(strings.TrimSpace(rangeA1))
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call sheets API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read sheets response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("sheets request failed",
			"method", method, "url", u, "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode sheets response: %w", err)
		}
	}
	return nil
}

func orDefault(inputOption string) string {
	if inputOption == "" {
		return UserEntered
	}
	return inputOption
}
