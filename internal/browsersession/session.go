// Package browsersession manages the lazy acquire / idle-teardown lifecycle
// of a worker's browser session. One session carries exactly one
// authenticated registry login; it is reused across jobs until an idle
// timeout or a terminal failure tears it down.
package browsersession

import (
	"context"

	"github.com/jackzampolin/registryctl/internal/sitedriver"
)

// Session wraps a driver-owned session handle together with the credential
// it is currently authenticated as.
type Session struct {
	Handle       sitedriver.Session
	CredentialID string
}

// OpenFunc opens a new driver session. Supplied by the caller so this
// package stays independent of any specific browser automation library.
type OpenFunc func(ctx context.Context) (sitedriver.Session, error)

// CloseFunc tears down a driver session.
type CloseFunc func(ctx context.Context, handle sitedriver.Session) error

// ScreenshotFunc captures a screenshot of the current page, called on a
// terminal failure path before the session closes. Returning an error is
// tolerated: a missing screenshot must never block job completion.
type ScreenshotFunc func(ctx context.Context, handle sitedriver.Session) ([]byte, error)
