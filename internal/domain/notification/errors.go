package notification

import "github.com/studiobook/studiobook-api/internal/pkg/apperror"

var ErrNotFound = apperror.New(apperror.KindNotFound, "notification not found")
