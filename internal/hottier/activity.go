package hottier

import (
	"fmt"
	"strconv"
	"time"

	"jt-go/internal/jt"
)

// activityDoc is the stored form of a jt.ActivityRecord. Times are Unix
// nanoseconds so range conditions compare numerically.
type activityDoc struct {
	VolumeID         string   `json:"volume_id"`
	Sequence         int64    `json:"sequence"`
	VolatileID       string   `json:"volatile_id"`
	ParentVolatileID string   `json:"parent_volatile_id"`
	Name             string   `json:"name"`
	IsDirectory      bool     `json:"is_directory"`
	Reasons          uint32   `json:"reasons"`
	ReasonNames      []string `json:"reason_names"`
	Timestamp        int64    `json:"timestamp"`
	SourceInfo       uint32   `json:"source_info"`
	Attributes       uint32   `json:"attributes"`
	EntityID         string   `json:"entity_id"`
	Path             string   `json:"path"`
	ActivityType     string   `json:"activity_type"`
	RenameRole       string   `json:"rename_role,omitempty"`
	ImportanceScore  float64  `json:"importance_score"`
	IngestedAt       int64    `json:"ingested_at"`
	ExpiresAt        int64    `json:"expires_at"`
}

// Key returns the document key of the record at (volume, sequence). Keys
// sort by volume, then numerically by sequence.
func Key(volume string, sequence int64) string {
	return fmt.Sprintf("%s:%020d", volume, sequence)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func newActivityDoc(a *jt.ActivityRecord) activityDoc {
	return activityDoc{
		VolumeID:         a.VolumeID,
		Sequence:         a.Sequence,
		VolatileID:       strconv.FormatUint(a.VolatileID, 10),
		ParentVolatileID: strconv.FormatUint(a.ParentVolatileID, 10),
		Name:             a.Name,
		IsDirectory:      a.IsDirectory,
		Reasons:          uint32(a.Reasons),
		ReasonNames:      a.Reasons.Names(),
		Timestamp:        unixNano(a.Timestamp),
		SourceInfo:       a.SourceInfo,
		Attributes:       a.Attributes,
		EntityID:         a.EntityID,
		Path:             a.Path,
		ActivityType:     string(a.ActivityType),
		RenameRole:       string(a.Ext.RenameRole),
		ImportanceScore:  a.ImportanceScore,
		IngestedAt:       unixNano(a.IngestedAt),
		ExpiresAt:        unixNano(a.ExpiresAt),
	}
}

func (d *activityDoc) record() jt.ActivityRecord {
	ref, _ := strconv.ParseUint(d.VolatileID, 10, 64)
	parent, _ := strconv.ParseUint(d.ParentVolatileID, 10, 64)
	reasons := jt.Reason(d.Reasons)
	return jt.ActivityRecord{
		ChangeRecord: jt.ChangeRecord{
			Sequence:         d.Sequence,
			VolumeID:         d.VolumeID,
			VolatileID:       ref,
			ParentVolatileID: parent,
			Name:             d.Name,
			IsDirectory:      d.IsDirectory,
			Reasons:          reasons,
			Timestamp:        fromUnixNano(d.Timestamp),
			SourceInfo:       d.SourceInfo,
			Attributes:       d.Attributes,
		},
		EntityID:        d.EntityID,
		Path:            d.Path,
		ActivityType:    jt.ActivityType(d.ActivityType),
		Ext:             jt.Extension{RenameRole: jt.RenameRole(d.RenameRole), RawReasons: reasons},
		ImportanceScore: d.ImportanceScore,
		IngestedAt:      fromUnixNano(d.IngestedAt),
		ExpiresAt:       fromUnixNano(d.ExpiresAt),
	}
}
