package connector

import (
	"encoding/json"
	"time"
)

// mondayRequest is the GraphQL request envelope
type mondayRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// mondayResponse is the GraphQL response envelope. Monday reports query
// errors in Errors and auth errors in ErrorMessage with a 200 status.
type mondayResponse struct {
	Data         json.RawMessage `json:"data"`
	Errors       []mondayError   `json:"errors"`
	ErrorMessage string          `json:"error_message"`
}

type mondayError struct {
	Message string `json:"message"`
}

// mondayColumnValue is one cell of a board item
type mondayColumnValue struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// mondayItem is one board item with its column values
type mondayItem struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	UpdatedAt    time.Time           `json:"updated_at"`
	ColumnValues []mondayColumnValue `json:"column_values"`
}

// toRecord flattens an item into a schemaless record: the item identity
// fields plus one key per column id
func (i *mondayItem) toRecord() map[string]any {
	record := map[string]any{
		"id":         i.ID,
		"name":       i.Name,
		"updated_at": i.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, column := range i.ColumnValues {
		record[column.ID] = column.Text
	}
	return record
}

// mondayItemsPage is one page of board items; Cursor is empty on the
// last page
type mondayItemsPage struct {
	Cursor string       `json:"cursor"`
	Items  []mondayItem `json:"items"`
}

type mondayBoardsData struct {
	Boards []struct {
		ItemsPage mondayItemsPage `json:"items_page"`
	} `json:"boards"`
}

type mondayNextItemsPageData struct {
	NextItemsPage mondayItemsPage `json:"next_items_page"`
}

type mondayItemsData struct {
	Items []mondayItem `json:"items"`
}

type mondayMeData struct {
	Me *struct {
		ID string `json:"id"`
	} `json:"me"`
}

type mondayItemIDData struct {
	CreateItem *struct {
		ID string `json:"id"`
	} `json:"create_item"`
	ChangeColumnValues *struct {
		ID string `json:"id"`
	} `json:"change_multiple_column_values"`
	DeleteItem *struct {
		ID string `json:"id"`
	} `json:"delete_item"`
}
