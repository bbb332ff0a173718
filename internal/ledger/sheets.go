package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"licensetrust/internal/security"
)

// Sheet layout, one license per row after the header:
// license_key | status | tier | licensee_name | licensee_email | mac | cpu | board | expiry_date | transfer_count | last_seen | hwid
const (
	colKey = iota
	colStatus
	colTier
	colName
	colEmail
	colMAC
	colCPU
	colBoard
	colExpiry
	colTransfers
	colLastSeen
	colHWID
	numColumns
)

const (
	sheetDateLayout     = "2006-01-02"
	sheetDateTimeLayout = "2006-01-02 15:04:05"
)

// SheetsConfig configures the Google Sheets ledger.
type SheetsConfig struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON []byte
	// ClientOptions are appended after the credentials option.
	ClientOptions []option.ClientOption
}

// SheetsClient is a ledger backed by a Google spreadsheet.
type SheetsClient struct {
	service *sheets.Service
	sheetID string
	sheet   string
	logger  *slog.Logger
	now     func() time.Time

	// serializes read-modify-write of rows
	mu sync.Mutex
}

// NewSheetsClient creates the Sheets service.
func NewSheetsClient(ctx context.Context, cfg SheetsConfig, logger *slog.Logger) (*SheetsClient, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("%w: spreadsheet id not configured", ErrUnavailable)
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Licenses"
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	if len(cfg.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	}
	opts = append(opts, cfg.ClientOptions...)

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &SheetsClient{
		service: service,
		sheetID: cfg.SpreadsheetID,
		sheet:   cfg.SheetName,
		logger:  logger.With(slog.String("component", "sheets_ledger")),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Validate implements Client. A valid key with no bound hardware is bound to
// the caller and its last_seen column is refreshed.
func (c *SheetsClient) Validate(ctx context.Context, key string, hw security.HardwareSnapshot) (ValidateResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.readRows(ctx)
	if err != nil {
		return ValidateResponse{}, err
	}
	idx, e := findRow(rows, key)
	if idx < 0 {
		return notFound(), nil
	}

	now := c.now()
	resp := validateEntry(e, now)
	if !resp.Valid {
		return resp, nil
	}

	if e.Hardware.IsEmpty() {
		e.Hardware = hw
	}
	e.Status = StatusActive
	e.LastSeen = &now
	if err := c.writeRow(ctx, idx, e); err != nil {
		// the verdict stands even if the bookkeeping write fails
		c.logger.WarnContext(ctx, "failed to update ledger row", slog.String("error", err.Error()))
	}
	return resp, nil
}

// GetAllLicenses implements Client.
func (c *SheetsClient) GetAllLicenses(ctx context.Context) ([]Entry, error) {
	rows, err := c.readRows(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if e, ok := parseRow(row); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// SyncActivation implements Client.
func (c *SheetsClient) SyncActivation(ctx context.Context, ev ActivationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.readRows(ctx)
	if err != nil {
		return err
	}
	idx, e := findRow(rows, ev.LicenseKey)
	if idx < 0 {
		return fmt.Errorf("license %s not found in sheet", maskKey(ev.LicenseKey))
	}

	e.Hardware = ev.Hardware
	e.TransferCount = ev.TransferCount
	at := ev.At.UTC()
	e.LastSeen = &at
	if NormalizeStatus(e.Status) == StatusPending {
		e.Status = StatusActive
	}
	return c.writeRow(ctx, idx, e)
}

// readRows returns data rows, header excluded.
func (c *SheetsClient) readRows(ctx context.Context) ([][]interface{}, error) {
	resp, err := c.service.Spreadsheets.Values.Get(c.sheetID, c.sheet).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read from sheets: %w", err)
	}
	if len(resp.Values) <= 1 {
		return nil, nil
	}
	return resp.Values[1:], nil
}

// writeRow rewrites data row idx (0-based, header excluded).
func (c *SheetsClient) writeRow(ctx context.Context, idx int, e Entry) error {
	sheetRow := idx + 2
	rangeStr := fmt.Sprintf("%s!A%d:L%d", c.sheet, sheetRow, sheetRow)
	vr := &sheets.ValueRange{Values: [][]interface{}{formatRow(e)}}
	_, err := c.service.Spreadsheets.Values.Update(c.sheetID, rangeStr, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update sheet row %d: %w", sheetRow, err)
	}
	return nil
}

func findRow(rows [][]interface{}, key string) (int, Entry) {
	for i, row := range rows {
		if e, ok := parseRow(row); ok && e.LicenseKey == key {
			return i, e
		}
	}
	return -1, Entry{}
}

func cell(row []interface{}, col int) string {
	if col >= len(row) || row[col] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[col]))
}

func parseRow(row []interface{}) (Entry, bool) {
	key := cell(row, colKey)
	if key == "" {
		return Entry{}, false
	}
	e := Entry{
		LicenseKey:    key,
		Status:        NormalizeStatus(cell(row, colStatus)),
		Tier:          cell(row, colTier),
		LicenseeName:  cell(row, colName),
		LicenseeEmail: cell(row, colEmail),
		Hardware: security.HardwareSnapshot{
			MAC:   cell(row, colMAC),
			CPU:   cell(row, colCPU),
			Board: cell(row, colBoard),
		},
	}
	if t, ok := parseSheetTime(cell(row, colExpiry)); ok {
		// expiry is inclusive of the whole day
		end := t.Add(24*time.Hour - time.Second)
		if len(cell(row, colExpiry)) > len(sheetDateLayout) {
			end = t
		}
		e.ExpiryDate = &end
	}
	if n, err := strconv.Atoi(cell(row, colTransfers)); err == nil {
		e.TransferCount = n
	}
	if t, ok := parseSheetTime(cell(row, colLastSeen)); ok {
		e.LastSeen = &t
	}
	return e, true
}

func parseSheetTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{sheetDateTimeLayout, time.RFC3339, sheetDateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func formatRow(e Entry) []interface{} {
	row := make([]interface{}, numColumns)
	row[colKey] = e.LicenseKey
	row[colStatus] = e.Status
	row[colTier] = e.Tier
	row[colName] = e.LicenseeName
	row[colEmail] = e.LicenseeEmail
	row[colMAC] = e.Hardware.MAC
	row[colCPU] = e.Hardware.CPU
	row[colBoard] = e.Hardware.Board
	row[colExpiry] = ""
	if e.ExpiryDate != nil {
		row[colExpiry] = formatExpiry(*e.ExpiryDate)
	}
	row[colTransfers] = strconv.Itoa(e.TransferCount)
	row[colLastSeen] = ""
	if e.LastSeen != nil {
		row[colLastSeen] = e.LastSeen.UTC().Format(sheetDateTimeLayout)
	}
	row[colHWID] = ""
	if !e.Hardware.IsEmpty() {
		row[colHWID] = e.Hardware.HWID()
	}
	return row
}

// formatExpiry writes a date-only cell only when parseRow reads it back as
// the same instant; any other time of day keeps its clock.
func formatExpiry(t time.Time) string {
	t = t.UTC()
	if h, m, sec := t.Clock(); h == 23 && m == 59 && sec == 59 && t.Nanosecond() == 0 {
		return t.Format(sheetDateLayout)
	}
	return t.Format(sheetDateTimeLayout)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
