package domain

// BulkOp is a document store bulk operation.
type BulkOp string

const (
	OpIndex  BulkOp = "index"
	OpUpdate BulkOp = "update"
)

// Mutation is one (operation, document) pair destined for a bulk request.
// For OpUpdate, Doc is a partial document merged into the stored one.
type Mutation struct {
	Op    BulkOp
	Index string
	ID    string
	Doc   map[string]any
}

// Key identifies the target document of a mutation.
func (m Mutation) Key() string {
	return m.Index + "/" + m.ID
}

// BulkFailure is a single rejected item of an otherwise accepted bulk request.
type BulkFailure struct {
	Index  string
	ID     string
	Status int
	Reason string
}

// BulkResult reports the items a bulk request did not apply.
type BulkResult struct {
	Items  int
	Failed []BulkFailure
}

// Rejected reports whether the mutation targeting key failed.
func (r BulkResult) Rejected(key string) bool {
	for _, f := range r.Failed {
		if f.Index+"/"+f.ID == key {
			return true
		}
	}
	return false
}

// ItemStatus classifies the outcome of a per-item task.
type ItemStatus int

const (
	ItemSuccess ItemStatus = iota
	ItemSkipped
	ItemFailed
)

func (s ItemStatus) String() string {
	switch s {
	case ItemSuccess:
		return "success"
	case ItemSkipped:
		return "skipped"
	case ItemFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcomes recorded on item results.
const (
	OutcomeInserted = "inserted"
	OutcomeMerged   = "merged"
	OutcomeKnown    = "known"
	OutcomeExcluded = "excluded"
	OutcomeNoImage  = "no_image"
	OutcomeFailed   = "failed"
)

// ItemResult is the typed result of one image task: mutations on success,
// nothing on a soft skip, and the error on a hard failure.
type ItemResult struct {
	Key       string
	Status    ItemStatus
	Outcome   string
	Mutations []Mutation
	// Depends lists keys of mutations emitted by other items that this
	// item's data lands in, such as a cluster inserted earlier in the cycle.
	Depends []string
	Err     error
}

// Succeeded builds a successful result.
func Succeeded(key, outcome string, muts []Mutation) ItemResult {
	return ItemResult{Key: key, Status: ItemSuccess, Outcome: outcome, Mutations: muts}
}

// Skipped builds a soft-failure result.
func Skipped(key, outcome string) ItemResult {
	return ItemResult{Key: key, Status: ItemSkipped, Outcome: outcome}
}

// Failed builds a hard-failure result.
func Failed(key string, err error) ItemResult {
	return ItemResult{Key: key, Status: ItemFailed, Outcome: OutcomeFailed, Err: err}
}
