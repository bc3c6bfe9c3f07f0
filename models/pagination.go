package models

import (
	"encoding/base64"
	"strconv"
)

type PageInfo struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

// DecodeIdCursor turns an opaque cursor back into the last seen id (0 when absent).
func DecodeIdCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	b, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, NewValidationError("after", "invalid cursor")
	}
	id, err := strconv.Atoi(string(b))
	if err != nil || id < 0 {
		return 0, NewValidationError("after", "invalid cursor")
	}
	return id, nil
}

func EncodeIdCursor(id int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(id)))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
