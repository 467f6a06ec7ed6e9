package service

import (
	"context"
	"sort"
	"strings"

	"github.com/qrdia/dpp-provisioner/internal/history"
	"github.com/qrdia/dpp-provisioner/internal/model"
)

// HistoryService provides filtering and statistics over the history ledger.
type HistoryService struct {
	ledger *history.Ledger
}

// NewHistoryService builds the history query service.
func NewHistoryService(ledger *history.Ledger) *HistoryService {
	return &HistoryService{ledger: ledger}
}

// Query returns one page of matching entries, most recent first.
func (s *HistoryService) Query(ctx context.Context, filter model.HistoryFilter) (*model.HistoryPage, error) {
	entries, err := s.filtered(ctx, filter)
	if err != nil {
		return nil, err
	}

	total := len(entries)
	if filter.PageSize <= 0 {
		filter.PageSize = 10
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	// Pages past the end are empty; checking first keeps the offset
	// multiplication from overflowing.
	start := total
	if filter.Page <= total/filter.PageSize+1 {
		start = min((filter.Page-1)*filter.PageSize, total)
	}
	end := min(start+filter.PageSize, total)

	return &model.HistoryPage{
		Data:     entries[start:end],
		Total:    total,
		Pages:    (total + filter.PageSize - 1) / filter.PageSize,
		PageNum:  filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// CountByStatus aggregates entries by lifecycle status.
func (s *HistoryService) CountByStatus(ctx context.Context) ([]map[string]any, error) {
	entries, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, err
	}
	counter := make(map[string]int)
	for _, e := range entries {
		status := string(e.Status)
		if status == "" {
			status = "unknown"
		}
		counter[status]++
	}
	return mapToKV(counter, "status"), nil
}

// CountByRoom aggregates entries by room, grouping unassigned devices.
func (s *HistoryService) CountByRoom(ctx context.Context) ([]map[string]any, error) {
	entries, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, err
	}
	counter := make(map[string]int)
	for _, e := range entries {
		room := strings.TrimSpace(e.Room)
		if room == "" {
			room = "unassigned"
		}
		counter[room]++
	}
	return mapToKV(counter, "room"), nil
}

// CountByDate aggregates entries per day, month or year.
func (s *HistoryService) CountByDate(ctx context.Context, dateType string) ([]map[string]any, error) {
	entries, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, err
	}
	layout := "2006-01-02"
	switch strings.ToLower(dateType) {
	case "year":
		layout = "2006"
	case "month":
		layout = "2006-01"
	}
	counter := make(map[string]int)
	for _, e := range entries {
		counter[e.Date.UTC().Format(layout)]++
	}
	return mapToKV(counter, "date"), nil
}

// filtered keeps ledger order, which is already most recent first.
func (s *HistoryService) filtered(ctx context.Context, filter model.HistoryFilter) ([]model.DeviceRecord, error) {
	all, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]model.DeviceRecord, 0, len(all))
	for _, e := range all {
		if filter.MACAddress != "" && !strings.EqualFold(e.MACAddress, strings.TrimSpace(filter.MACAddress)) {
			continue
		}
		if filter.Status != "" && !strings.EqualFold(string(e.Status), string(filter.Status)) {
			continue
		}
		if filter.Room != "" && !strings.EqualFold(e.Room, filter.Room) {
			continue
		}
		matches = append(matches, e)
	}
	return matches, nil
}

func mapToKV(counter map[string]int, key string) []map[string]any {
	result := make([]map[string]any, 0, len(counter))
	for k, v := range counter {
		result = append(result, map[string]any{
			key:     k,
			"count": v,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i][key].(string) < result[j][key].(string)
	})
	return result
}
