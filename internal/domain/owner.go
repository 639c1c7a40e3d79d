package domain

import (
	"strings"

	"ledger-service/pkg/xerrors"
)

// Owner is the authenticated caller identity handed in by the upstream auth layer.
type Owner struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (o Owner) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return xerrors.Forbidden("owner identity is required")
	}
	return nil
}
