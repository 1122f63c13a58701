package events

// RowRemoved is the payload of GridRowRemoved. Consumers holding per-row data
// keyed by index (validation errors, for instance) re-index from it.
type RowRemoved struct {
	Handle       string `json:"handle" msgpack:"handle"`
	RemovedIndex int    `json:"removedIndex" msgpack:"removedIndex"`
}

// RowsKind tells the renderer how to apply a RowsChange.
type RowsKind string

const (
	// RowAdded asks the renderer to materialize the row at Index.
	RowAdded RowsKind = "added"
	// RowsRebuilt asks the renderer to rebuild every row from scratch.
	RowsRebuilt RowsKind = "rebuilt"
)

// RowsChange is the payload of GridRows: the full data of a grid after a
// row operation.
type RowsChange struct {
	Handle string           `json:"handle" msgpack:"handle"`
	Kind   RowsKind         `json:"kind" msgpack:"kind"`
	Index  int              `json:"index" msgpack:"index"`
	Rows   []map[string]any `json:"rows" msgpack:"rows"`
}

// StepChanged is the payload of StepChange.
type StepChanged struct {
	CurrentStep int    `json:"currentStep" msgpack:"currentStep"`
	TotalSteps  int    `json:"totalSteps" msgpack:"totalSteps"`
	FormHandle  string `json:"formHandle,omitempty" msgpack:"formHandle,omitempty"`
}

// Submitted is the payload of FormSuccess.
type Submitted struct {
	Response map[string]any `json:"response" msgpack:"response"`
	Data     map[string]any `json:"data" msgpack:"data"`
}

// Failed is the payload of FormError.
type Failed struct {
	Errors         map[string][]string `json:"errors,omitempty" msgpack:"errors,omitempty"`
	Fatal          bool                `json:"fatal" msgpack:"fatal"`
	SessionExpired bool                `json:"sessionExpired" msgpack:"sessionExpired"`
	Status         int                 `json:"status,omitempty" msgpack:"status,omitempty"`
}

// Validated is the payload of FieldErrors: the outcome of a precognition
// request for Keys. Errors holds the whole error map afterwards.
type Validated struct {
	Keys   []string            `json:"keys" msgpack:"keys"`
	Errors map[string][]string `json:"errors" msgpack:"errors"`
}
