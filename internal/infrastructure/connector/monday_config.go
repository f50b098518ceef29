package connector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/crmhub/backend/internal/domain/integration"
)

// Monday configuration errors
var (
	ErrMondayAPITokenRequired     = errors.New("monday: api token is required")
	ErrMondayBoardMappingRequired = errors.New("monday: at least one board mapping is required")
)

const defaultMondayAPIURL = "https://api.monday.com/v2"

// MondayConfig is the typed shape of a Monday.com connection's opaque
// config/credentials blobs. Each synced entity type maps to one board.
type MondayConfig struct {
	APIURL   string
	APIToken string
	BoardIDs map[integration.EntityType]string
}

// ParseMondayConfig extracts and validates the typed config from a
// connection's config and credentials maps
func ParseMondayConfig(conn *integration.Connection) (*MondayConfig, error) {
	cfg := &MondayConfig{
		APIURL:   stringValue(conn.Config, "api_url"),
		APIToken: stringValue(conn.Credentials, "api_token"),
		BoardIDs: make(map[integration.EntityType]string),
	}

	if boards, ok := conn.Config["board_ids"].(map[string]any); ok {
		for key, value := range boards {
			entityType := integration.EntityType(key)
			if !entityType.IsValid() {
				continue
			}
			switch v := value.(type) {
			case string:
				cfg.BoardIDs[entityType] = v
			case float64:
				cfg.BoardIDs[entityType] = strconv.FormatInt(int64(v), 10)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and fills defaults
func (c *MondayConfig) Validate() error {
	if c.APIToken == "" {
		return ErrMondayAPITokenRequired
	}
	if len(c.BoardIDs) == 0 {
		return ErrMondayBoardMappingRequired
	}
	if c.APIURL == "" {
		c.APIURL = defaultMondayAPIURL
	} else {
		c.APIURL = strings.TrimSuffix(c.APIURL, "/")
	}
	return nil
}

// BoardFor resolves the board id backing an entity type
func (c *MondayConfig) BoardFor(entityType integration.EntityType) (string, error) {
	boardID, ok := c.BoardIDs[entityType]
	if !ok {
		return "", fmt.Errorf("%w: %s", integration.ErrEntityTypeNotMapped, entityType)
	}
	return boardID, nil
}
