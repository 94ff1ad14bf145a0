package credentials

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/passkeygate/internal/common"
	"github.com/dmitrijs2005/passkeygate/internal/server/models"
)

func validateUser(id, username string) error {
	if id == "" || strings.Contains(id, ".") {
		return fmt.Errorf("%w: user id must be non-empty and must not contain '.'", common.ErrorValidation)
	}
	if username == "" {
		return fmt.Errorf("%w: username must not be empty", common.ErrorValidation)
	}
	return nil
}

func validateCredential(c models.Credential) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: credential id must not be empty", common.ErrorValidation)
	case c.UserID == "":
		return fmt.Errorf("%w: credential user id must not be empty", common.ErrorValidation)
	case len(c.PublicKey) == 0:
		return fmt.Errorf("%w: credential public key must not be empty", common.ErrorValidation)
	case c.DeviceType != models.DeviceSingle && c.DeviceType != models.DeviceMulti:
		return fmt.Errorf("%w: unknown device type %q", common.ErrorValidation, c.DeviceType)
	}
	return nil
}
