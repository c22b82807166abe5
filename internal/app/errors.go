package service

import (
	"errors"

	"github.com/okian/tabulator/internal/adapters/catalog"
)

// Sentinel kinds for service errors.
var (
	ErrCompetitionNotFound = catalog.ErrCompetitionNotFound
	ErrSegmentNotFound     = errors.New("segment not found")
	ErrGateway             = errors.New("persistence gateway failure")
)
