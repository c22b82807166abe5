package ledger

import (
	"errors"

	"github.com/okian/tabulator/internal/domain/model"
)

// Sentinel kinds for ledger errors.
var (
	ErrInvalidKey      = model.ErrInvalidKey
	ErrScoreOutOfRange = model.ErrScoreOutOfRange
	ErrInvalidRow      = errors.New("invalid score row")
)
