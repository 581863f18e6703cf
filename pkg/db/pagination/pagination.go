package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

var ErrInvalidCursor = errors.New("pagination: invalid cursor")

const (
	DefaultLimit = 50
	MaxLimit     = 250
)

type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=50" binding:"gte=1,lte=250"`
}

// Cursor is the ledger position of the last item of a page.
type Cursor struct {
	Block    uint64 `json:"b"`
	LogIndex uint64 `json:"l"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor returns the zero cursor for an empty string.
func DecodeCursor(data string) (Cursor, error) {
	if data == "" {
		return Cursor{}, nil
	}

	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return Cursor{}, ErrInvalidCursor
	}

	return cursor, nil
}

// BuildCursorPageInfo expects data fetched with limit+1 and returns it cut
// to limit together with the cursor of its last element.
func BuildCursorPageInfo[T any](data []T, limit int, extractCursor func(T) Cursor) ([]T, PageInfo, error) {
	if len(data) == 0 {
		return data, PageInfo{HasMore: false}, nil
	}

	hasMore := false
	if len(data) > limit {
		hasMore = true
		data = data[:limit]
	}

	info := PageInfo{HasMore: hasMore}
	if hasMore {
		next, err := EncodeCursor(extractCursor(data[len(data)-1]))
		if err != nil {
			return nil, PageInfo{}, err
		}
		info.NextCursor = next
	}

	return data, info, nil
}
