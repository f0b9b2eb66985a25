package autoheal

import (
	"time"

	"github.com/dukex/convoflow/pkg/compiler"
	"github.com/dukex/convoflow/pkg/models"
)

// Action is what the healer does with one stored document.
type Action string

const (
	ActionSkip    Action = "skip"
	ActionUpdate  Action = "update"
	ActionInvalid Action = "invalid"
)

// Decision is the pure outcome of planning one document.
type Decision struct {
	Action           Action
	Check            Check
	Result           *compiler.Result
	Upgrades         []string
	PreviousRevision int
}

// Plan decides whether doc needs healing and, if so, compiles the upgraded
// document. It never touches storage. A document that could not be read is
// always invalid.
func Plan(doc models.RawDocument, upgrades *UpgradeRegistry, now time.Time) Decision {
	if doc.Err != nil {
		return Decision{
			Action: ActionInvalid,
			Check:  Check{Needed: true, Reasons: []string{"unreadable document"}},
			Result: &compiler.Result{Errors: []string{doc.Err.Error()}},
		}
	}

	check := NeedsCompile(doc.Data, upgrades)
	if !check.Needed {
		return Decision{Action: ActionSkip, Check: check}
	}

	// The storage location is authoritative for identity.
	raw := compiler.CloneDocument(doc.Data)
	raw["id"] = doc.ID
	raw["creatorId"] = doc.CreatorID

	createdAt := compiler.CoerceTime(raw["createdAt"], now)
	raw["createdAt"] = createdAt
	raw["updatedAt"] = compiler.CoerceTime(raw["updatedAt"], now)

	decision := Decision{Check: check}

	for _, upgrade := range upgrades.Applicable(raw) {
		raw = upgrade.Apply(raw)
		decision.Upgrades = append(decision.Upgrades, upgrade.ID)
	}

	if revision, ok := intValue(raw["revision"]); ok && revision > 0 {
		decision.PreviousRevision = revision
	}

	decision.Result = compiler.Compile(raw, compiler.Options{
		PreviousRevision:  decision.PreviousRevision,
		PreserveCreatedAt: &createdAt,
		Now:               func() time.Time { return now },
	})

	if decision.Result.OK() {
		decision.Action = ActionUpdate
	} else {
		decision.Action = ActionInvalid
	}

	return decision
}
