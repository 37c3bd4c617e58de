// Package result assembles completed jobs into the ordered report handed
// back to the caller, and packages the converted artifacts for delivery.
package result

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

// Artifact is one converted image.
type Artifact struct {
	EntryID      string       `json:"entryId"`
	OriginalName string       `json:"originalName"`
	OutputName   string       `json:"outputName"`
	TargetFormat model.Format `json:"targetFormat"`
	ContentType  string       `json:"contentType"`
	Size         int          `json:"size"`
	Payload      []byte       `json:"-"`
}

// FailedItem is one job that produced no output.
type FailedItem struct {
	EntryID      string        `json:"entryId"`
	OriginalName string        `json:"originalName"`
	Reason       model.Failure `json:"reason"`
}

// BatchResult is the final report of a run. Both lists follow submission
// order, whatever order the jobs completed in. A result whose jobs all failed
// is still a valid result.
type BatchResult struct {
	TargetFormat model.Format `json:"targetFormat"`
	Succeeded    []Artifact   `json:"succeeded"`
	Failed       []FailedItem `json:"failed"`
	Aborted      bool         `json:"aborted"`
}

// Summary holds the counts of a result.
type Summary struct {
	Total     int  `json:"total"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Aborted   bool `json:"aborted"`
}

// Assemble builds a BatchResult from jobs. Jobs are ordered by Index; any
// job that never reached a terminal state is reported as aborted.
func Assemble(target model.Format, jobs []*model.Job) *BatchResult {
	ordered := make([]*model.Job, 0, len(jobs))
	for _, j := range jobs {
		if j != nil {
			ordered = append(ordered, j)
		}
	}
	sort.SliceStable(ordered, func(a, b int) bool { return ordered[a].Index < ordered[b].Index })

	res := &BatchResult{
		TargetFormat: target,
		Succeeded:    []Artifact{},
		Failed:       []FailedItem{},
	}
	names := newNamer()
	for _, j := range ordered {
		switch j.Status {
		case model.StatusSucceeded:
			res.Succeeded = append(res.Succeeded, Artifact{
				EntryID:      j.SourceID,
				OriginalName: j.OriginalName,
				OutputName:   names.next(OutputName(j.OriginalName, j.TargetFormat)),
				TargetFormat: j.TargetFormat,
				ContentType:  j.TargetFormat.ContentType(),
				Size:         len(j.Output),
				Payload:      j.Output,
			})
		case model.StatusFailed:
			reason := model.AbortedFailure(nil)
			if j.Failure != nil {
				reason = *j.Failure
			}
			if reason.Kind == model.FailureAborted {
				res.Aborted = true
			}
			res.Failed = append(res.Failed, FailedItem{EntryID: j.SourceID, OriginalName: j.OriginalName, Reason: reason})
		default:
			res.Aborted = true
			res.Failed = append(res.Failed, FailedItem{
				EntryID:      j.SourceID,
				OriginalName: j.OriginalName,
				Reason:       model.AbortedFailure(nil),
			})
		}
	}
	return res
}

// Summary returns the counts of r.
func (r *BatchResult) Summary() Summary {
	return Summary{
		Total:     len(r.Succeeded) + len(r.Failed),
		Succeeded: len(r.Succeeded),
		Failed:    len(r.Failed),
		Aborted:   r.Aborted,
	}
}

// Find returns the artifact converted from entryID.
func (r *BatchResult) Find(entryID string) (Artifact, bool) {
	for _, a := range r.Succeeded {
		if a.EntryID == entryID {
			return a, true
		}
	}
	return Artifact{}, false
}

// OutputName swaps the extension of name for the target format's.
func OutputName(name string, target model.Format) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "image"
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "image"
	}
	return base + target.Extension()
}

// namer keeps output names unique within one result.
type namer struct {
	seen map[string]int
}

func newNamer() *namer {
	return &namer{seen: make(map[string]int)}
}

func (n *namer) next(name string) string {
	key := strings.ToLower(name)
	count, ok := n.seen[key]
	n.seen[key] = count + 1
	if !ok {
		return name
	}
	ext := filepath.Ext(name)
	candidate := strings.TrimSuffix(name, ext) + "-" + strconv.Itoa(count) + ext
	// The suffixed name may already be taken.
	return n.next(candidate)
}
