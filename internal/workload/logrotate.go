// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"context"

	"github.com/juju/errors"
)

// LogrotatePath is where the livepatch logrotate policy lives in the
// workload container.
const LogrotatePath = "/etc/logrotate.d/livepatch"

const logrotateConfig = `/var/log/livepatch {
    rotate 7
    daily
    compress
    delaycompress
    missingok
    notifempty
    copytruncate
}
`

// LogrotateConfig returns the logrotate policy for the server logs.
func LogrotateConfig() []byte {
	return []byte(logrotateConfig)
}

// PushLogrotateConfig writes the logrotate policy into the container.
// Pushing the same content again is harmless.
func PushLogrotateConfig(ctx context.Context, supervisor Supervisor) error {
	err := supervisor.Push(ctx, LogrotatePath, LogrotateConfig(), true)
	return errors.Annotate(err, "pushing logrotate config")
}
