package sync

import (
	"log/slog"

	"github.com/schaermu/helpsync/internal/model"
)

// Operations recorded in a Report
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpRepoint = "repoint"
	OpUpload  = "upload"
	OpDelete  = "delete"
	OpSkip    = "skip"
	OpFail    = "fail"
)

// Action is a single decision taken for a node
type Action struct {
	Op     string
	Kind   model.Kind
	Path   string
	Fields []string // changed fields, for updates
}

// Report summarizes one push run. In dry-run mode it lists what a real run
// would have done.
type Report struct {
	DryRun  bool
	Actions []Action
}

func (r *Report) add(op string, kind model.Kind, path string, fields ...string) {
	r.Actions = append(r.Actions, Action{Op: op, Kind: kind, Path: path, Fields: fields})
}

// Count returns the number of actions with the given operation
func (r *Report) Count(op string) int {
	n := 0
	for _, a := range r.Actions {
		if a.Op == op {
			n++
		}
	}
	return n
}

// Changed reports whether the run touched the remote side
func (r *Report) Changed() bool {
	for _, a := range r.Actions {
		if a.Op != OpSkip && a.Op != OpFail {
			return true
		}
	}
	return false
}

// Log writes the summary, and every action when the run was a dry run
func (r *Report) Log(logger *slog.Logger) {
	if r.DryRun {
		for _, a := range r.Actions {
			logger.Info("[dry-run] would "+a.Op, "kind", a.Kind.String(), "path", a.Path, "fields", a.Fields)
		}
	}
	logger.Info("push summary",
		"created", r.Count(OpCreate),
		"updated", r.Count(OpUpdate),
		"repointed", r.Count(OpRepoint),
		"uploaded", r.Count(OpUpload),
		"deleted", r.Count(OpDelete),
		"skipped", r.Count(OpSkip),
		"failed", r.Count(OpFail),
		"dry_run", r.DryRun)
}
