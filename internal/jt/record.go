package jt

import "time"

// ChangeRecord is one decoded journal entry. It is a value type and is never
// modified after decoding.
type ChangeRecord struct {
	Sequence         int64
	VolumeID         string
	VolatileID       uint64
	ParentVolatileID uint64
	Name             string
	IsDirectory      bool
	Reasons          Reason
	Timestamp        time.Time
	SourceInfo       uint32
	Attributes       uint32
}

// ActivityType is the normalized classification of a ChangeRecord.
type ActivityType string

const (
	ActivityCreate          ActivityType = "create"
	ActivityDelete          ActivityType = "delete"
	ActivitySecurityChange  ActivityType = "security_change"
	ActivityAttributeChange ActivityType = "attribute_change"
	ActivityClose           ActivityType = "close"
	ActivityModify          ActivityType = "modify"
	ActivityOther           ActivityType = "other"
)

// ActivityTypes lists every activity type in normalization priority order.
var ActivityTypes = []ActivityType{
	ActivityCreate,
	ActivityDelete,
	ActivitySecurityChange,
	ActivityAttributeChange,
	ActivityClose,
	ActivityModify,
	ActivityOther,
}

// ParseActivityType validates s as an activity type name.
func ParseActivityType(s string) (ActivityType, bool) {
	for _, t := range ActivityTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// RenameRole marks which half of a rename pair a record is.
type RenameRole string

const (
	RenameNone RenameRole = ""
	RenameOld  RenameRole = "old"
	RenameNew  RenameRole = "new"
)

const (
	attributeChangeMask = ReasonEAChange | ReasonBasicInfoChange | ReasonCompressionChange | ReasonEncryptionChange
	modifyMask          = ReasonDataOverwrite | ReasonDataExtend | ReasonDataTruncation |
		ReasonNamedDataOverwrite | ReasonNamedDataExtend | ReasonNamedDataTruncation
)

// Normalize maps a reason bitmask to a single activity type. A record may
// carry several reasons at once; the first match in this order wins:
// create, delete, rename, security, attribute, close, modify.
//
// Renames are reported as ActivityOther with the role set so the old-name
// and new-name halves can be correlated later by volatile id and sequence.
func Normalize(r Reason) (ActivityType, RenameRole) {
	switch {
	case r.Has(ReasonFileCreate):
		return ActivityCreate, RenameNone
	case r.Has(ReasonFileDelete):
		return ActivityDelete, RenameNone
	case r.Has(ReasonRenameOldName):
		return ActivityOther, RenameOld
	case r.Has(ReasonRenameNewName):
		return ActivityOther, RenameNew
	case r.Has(ReasonSecurityChange):
		return ActivitySecurityChange, RenameNone
	case r.Has(attributeChangeMask):
		return ActivityAttributeChange, RenameNone
	case r.Has(ReasonClose):
		return ActivityClose, RenameNone
	case r.Has(modifyMask):
		return ActivityModify, RenameNone
	default:
		return ActivityOther, RenameNone
	}
}

// Extension holds the optional fields an ActivityRecord carries beyond its
// activity type.
type Extension struct {
	RenameRole RenameRole
	RawReasons Reason
}

// ActivityRecord is the persisted hot-tier unit: a ChangeRecord annotated with
// its entity, classification, score and retention window.
type ActivityRecord struct {
	ChangeRecord
	EntityID        string
	Path            string // entity path at ingest time
	ActivityType    ActivityType
	Ext             Extension
	ImportanceScore float64
	IngestedAt      time.Time
	ExpiresAt       time.Time
}

// Live reports whether the record is still inside its retention window at now.
func (a *ActivityRecord) Live(now time.Time) bool {
	return a.ExpiresAt.After(now)
}

// Entity is the stable identity of a logical file or directory on a volume.
// Volatile ids may be reused by the filesystem after a delete; entity ids are not.
type Entity struct {
	EntityID                  string
	VolumeID                  string
	LastKnownVolatileID       uint64
	LastKnownParentVolatileID uint64
	Path                      string
	Name                      string
	IsDirectory               bool
	Deleted                   bool
	DeletedSequence           int64 // sequence of the delete record; 0 while live
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Cursor is the per-volume collection position.
type Cursor struct {
	VolumeID        string
	JournalIdentity string
	LastSequence    int64
	UpdatedAt       time.Time
}

// JournalState describes a volume's live journal at the moment it was read.
type JournalState struct {
	Identity       string
	LowestSequence int64 // oldest sequence still readable
	NextSequence   int64 // sequence the next appended record will get
}
