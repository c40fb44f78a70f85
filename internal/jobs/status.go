// Package jobs holds the vocabulary shared by every stage that touches a
// job: ids, status values and the stage names that appear in error statuses.
package jobs

import (
	"fmt"
	"strconv"
	"strings"
)

// In-flight statuses. Any status not listed here is terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
)

// StatusError is the terminal status the transcode worker writes when the
// encoder fails. Platform stages use ErrorStatus instead.
const StatusError = "error"

const errorPrefix = "ERROR,"

// Stage names used in ERROR statuses.
const (
	StageTranscode       = "transcode"
	StageCreateContainer = "create_container"
	StageCheckStatus     = "check_status"
	StagePublish         = "publish"
	StageInitialize      = "initialize"
	StageAppend          = "append"
	StageFinalize        = "finalize"
	StagePoll            = "poll"
	StagePost            = "post"
)

// ErrorStatus formats a terminal failure: ERROR,<stage>,<code>.
func ErrorStatus(stage string, code any) string {
	switch c := code.(type) {
	case int:
		return errorPrefix + stage + "," + strconv.Itoa(c)
	default:
		return fmt.Sprintf("%s%s,%v", errorPrefix, stage, c)
	}
}

// IsError reports whether status records a failure.
func IsError(status string) bool {
	return status == StatusError || strings.HasPrefix(status, errorPrefix)
}

// IsTerminal reports whether status ends the job: a failure or a platform
// post id. Empty is not a status.
func IsTerminal(status string) bool {
	switch status {
	case "", StatusPending, StatusProcessing, StatusDone:
		return false
	}
	return true
}

// ParseError splits an ERROR status into stage and code.
func ParseError(status string) (stage, code string, ok bool) {
	rest, found := strings.CutPrefix(status, errorPrefix)
	if !found {
		return "", "", false
	}
	stage, code, _ = strings.Cut(rest, ",")
	return stage, code, true
}
