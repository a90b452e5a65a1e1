package excel

// RawRowData maps lower-cased header names to trimmed cell values
type RawRowData map[string]string

// ExcelData represents a header row plus data rows
type ExcelData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// HasColumn reports whether the table has the named column
func (d *ExcelData) HasColumn(name string) bool {
	for _, h := range d.Headers {
		if h == name {
			return true
		}
	}
	return false
}
