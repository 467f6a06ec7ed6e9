package model

// HistoryFilter describes query parameters for history searching.
type HistoryFilter struct {
	MACAddress string
	Status     Status
	Room       string
	Page       int
	PageSize   int
}

// HistoryPage is one page of ledger entries, most recent first.
type HistoryPage struct {
	Data     []DeviceRecord `json:"data"`
	Total    int            `json:"total"`
	Pages    int            `json:"pages"`
	PageNum  int            `json:"pageNum"`
	PageSize int            `json:"pageSize"`
}
