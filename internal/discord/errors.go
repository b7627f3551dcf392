// ABOUTME: Error sentinels for Discord gateway operations
// ABOUTME: Maps arikawa HTTP errors onto the kinds callers distinguish

package discord

import (
	"errors"

	"github.com/diamondburned/arikawa/v3/utils/httputil"
)

var (
	// ErrNotConnected means no live gateway session exists.
	ErrNotConnected = errors.New("not connected to Discord")
	// ErrNoChannel means no channel has been selected for thread creation.
	ErrNoChannel = errors.New("no channel selected")
	// ErrNameRequired rejects thread creation without a name.
	ErrNameRequired = errors.New("thread name is required")
	// ErrNotFound means the thread, channel, or guild id no longer resolves.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied means the bot lacks a required permission.
	ErrPermissionDenied = errors.New("missing permissions")
)

// Discord JSON error codes the client distinguishes.
const (
	codeUnknownChannel    = 10003
	codeUnknownMessage    = 10008
	codeMissingPermission = 50013
)

// wrapAPIError maps arikawa REST failures onto the client's sentinels.
// Unrecognized errors pass through unchanged.
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	var httpErr *httputil.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == 404,
			int(httpErr.Code) == codeUnknownChannel,
			int(httpErr.Code) == codeUnknownMessage:
			return errors.Join(ErrNotFound, err)
		case httpErr.Status == 403, int(httpErr.Code) == codeMissingPermission:
			return errors.Join(ErrPermissionDenied, err)
		}
	}
	return err
}
