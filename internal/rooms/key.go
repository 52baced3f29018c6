package rooms

import "strings"

// Key names a broadcast room. The zero ClassID is the whole school room.
// Keys are compared by value; ids may contain any character.
type Key struct {
	SchoolID string
	ClassID  string
	// Group scopes the room to a role group of the school, e.g. GroupStaff.
	// Group rooms are joined on connect, never by client request.
	Group string
}

const GroupStaff = "staff"

func School(schoolID string) Key {
	return Key{SchoolID: schoolID}
}

func Class(schoolID, classID string) Key {
	return Key{SchoolID: schoolID, ClassID: classID}
}

// Staff is the room of the admins and staff of a school.
func Staff(schoolID string) Key {
	return Key{SchoolID: schoolID, Group: GroupStaff}
}

func (k Key) IsClass() bool {
	return k.ClassID != ""
}

func (k Key) Valid() bool {
	return k.SchoolID != ""
}

const legacyClassSeparator = "-class-"

// String renders the key the way older clients name rooms. It is for logs and
// the legacy join payload only, never for routing.
func (k Key) String() string {
	if k.Group != "" {
		return k.SchoolID + "-" + k.Group
	}
	if k.ClassID == "" {
		return k.SchoolID
	}
	return k.SchoolID + legacyClassSeparator + k.ClassID
}

// ParseLegacyClass reads a "<school>-class-<class>" room name. The school id is
// known from the caller's identity, which keeps the split unambiguous even when
// either id contains the separator.
func ParseLegacyClass(name, schoolID string) (Key, bool) {
	classID, ok := strings.CutPrefix(name, schoolID+legacyClassSeparator)
	if !ok || classID == "" || schoolID == "" {
		return Key{}, false
	}
	return Class(schoolID, classID), true
}
