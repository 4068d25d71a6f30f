package enums

import "fmt"

// ConflictPolicy governs how POS sync treats an offline order the ledger cannot cover.
type ConflictPolicy string

const (
	ConflictPolicyReject            ConflictPolicy = "reject_conflict"
	ConflictPolicyAdjustToAvailable ConflictPolicy = "adjust_to_available"
)

func (p ConflictPolicy) IsValid() bool {
	return p == ConflictPolicyReject || p == ConflictPolicyAdjustToAvailable
}

func ParseConflictPolicy(value string) (ConflictPolicy, error) {
	p := ConflictPolicy(value)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid conflict policy %q", value)
	}
	return p, nil
}

// SyncOutcome is the recorded result of one offline order submission.
type SyncOutcome string

const (
	SyncOutcomeCreated    SyncOutcome = "created"
	SyncOutcomeConflicted SyncOutcome = "conflicted"
	SyncOutcomeDuplicate  SyncOutcome = "duplicate"
)

func (o SyncOutcome) IsValid() bool {
	switch o {
	case SyncOutcomeCreated, SyncOutcomeConflicted, SyncOutcomeDuplicate:
		return true
	}
	return false
}
