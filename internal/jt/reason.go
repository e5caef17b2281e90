package jt

import "strings"

// Reason is the bitmask of low-level mutation reasons carried by a journal
// entry. Values match the USN_REASON_* constants so decoded records can be
// stored without translation.
type Reason uint32

const (
	ReasonDataOverwrite       Reason = 0x00000001
	ReasonDataExtend          Reason = 0x00000002
	ReasonDataTruncation      Reason = 0x00000004
	ReasonNamedDataOverwrite  Reason = 0x00000010
	ReasonNamedDataExtend     Reason = 0x00000020
	ReasonNamedDataTruncation Reason = 0x00000040
	ReasonFileCreate          Reason = 0x00000100
	ReasonFileDelete          Reason = 0x00000200
	ReasonEAChange            Reason = 0x00000400
	ReasonSecurityChange      Reason = 0x00000800
	ReasonRenameOldName       Reason = 0x00001000
	ReasonRenameNewName       Reason = 0x00002000
	ReasonIndexableChange     Reason = 0x00004000
	ReasonBasicInfoChange     Reason = 0x00008000
	ReasonHardLinkChange      Reason = 0x00010000
	ReasonCompressionChange   Reason = 0x00020000
	ReasonEncryptionChange    Reason = 0x00040000
	ReasonObjectIDChange      Reason = 0x00080000
	ReasonReparsePointChange  Reason = 0x00100000
	ReasonStreamChange        Reason = 0x00200000
	ReasonTransactedChange    Reason = 0x00400000
	ReasonIntegrityChange     Reason = 0x00800000
	ReasonClose               Reason = 0x80000000
)

var reasonNames = []struct {
	flag Reason
	name string
}{
	{ReasonDataOverwrite, "data_overwrite"},
	{ReasonDataExtend, "data_extend"},
	{ReasonDataTruncation, "data_truncation"},
	{ReasonNamedDataOverwrite, "named_data_overwrite"},
	{ReasonNamedDataExtend, "named_data_extend"},
	{ReasonNamedDataTruncation, "named_data_truncation"},
	{ReasonFileCreate, "file_create"},
	{ReasonFileDelete, "file_delete"},
	{ReasonEAChange, "ea_change"},
	{ReasonSecurityChange, "security_change"},
	{ReasonRenameOldName, "rename_old_name"},
	{ReasonRenameNewName, "rename_new_name"},
	{ReasonIndexableChange, "indexable_change"},
	{ReasonBasicInfoChange, "basic_info_change"},
	{ReasonHardLinkChange, "hard_link_change"},
	{ReasonCompressionChange, "compression_change"},
	{ReasonEncryptionChange, "encryption_change"},
	{ReasonObjectIDChange, "object_id_change"},
	{ReasonReparsePointChange, "reparse_point_change"},
	{ReasonStreamChange, "stream_change"},
	{ReasonTransactedChange, "transacted_change"},
	{ReasonIntegrityChange, "integrity_change"},
	{ReasonClose, "close"},
}

// Has reports whether any bit of flag is set.
func (r Reason) Has(flag Reason) bool {
	return r&flag != 0
}

// Names returns the names of all set flags in bit order.
// Unknown bits are ignored.
func (r Reason) Names() []string {
	var names []string
	for _, n := range reasonNames {
		if r&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	return names
}

func (r Reason) String() string {
	names := r.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseReasonName returns the flag for a name produced by Names.
func ParseReasonName(name string) (Reason, bool) {
	for _, n := range reasonNames {
		if n.name == name {
			return n.flag, true
		}
	}
	return 0, false
}
